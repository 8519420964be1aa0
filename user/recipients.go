package user

import (
	"github.com/drand/streams/id"
	"github.com/drand/streams/message"
)

// authorRecipientSecretFunc resolves every recipient listed on a Keyload this
// user is about to send: a PskId recipient resolves to the held PSK itself;
// an Ed25519 recipient resolves via key exchange, using the exchange
// ephemeral learned from that subscriber's Subscribe message if one was
// recorded in keyStore (nil otherwise, letting Identity.Exchange fall back to
// recipient's own long-term key).
func (u *User) authorRecipientSecretFunc() message.RecipientSecretFunc {
	return func(recipient id.Identifier) ([]byte, bool, error) {
		if recipient.Kind == id.KindPskID {
			key, ok := u.pskStore.Get(recipient.PskID)
			if !ok {
				return nil, false, nil
			}
			return append([]byte{}, key[:]...), true, nil
		}
		known := u.keyStore[recipient]
		secret, err := u.identity.Exchange(recipient, known)
		if err != nil {
			return nil, false, err
		}
		return secret, true, nil
	}
}

// readerRecipientSecretFunc resolves a Keyload recipient slot from the
// perspective of a reader unwrapping someone else's Keyload: a slot only
// resolves when it names this user's own identifier or a PSK this user
// holds, exchanging against publisher (the Keyload's author) in the
// Ed25519 case. Every other slot reports ok == false, and UnwrapKeyload
// still walks it with a nil secret so the chain and signature never depend
// on which slot (if any) resolves.
func (u *User) readerRecipientSecretFunc(publisher id.Identifier) message.RecipientSecretFunc {
	return func(recipient id.Identifier) ([]byte, bool, error) {
		if recipient.Kind == id.KindPskID {
			key, ok := u.pskStore.Get(recipient.PskID)
			if !ok {
				return nil, false, nil
			}
			return append([]byte{}, key[:]...), true, nil
		}
		if u.identity == nil || recipient != u.identity.Identifier() {
			return nil, false, nil
		}
		known := u.keyStore[publisher]
		secret, err := u.identity.Exchange(publisher, known)
		if err != nil {
			return nil, false, err
		}
		return secret, true, nil
	}
}
