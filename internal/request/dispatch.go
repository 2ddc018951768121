package request

// Kind tags the category of inbound frame a Dispatchable is willing to
// receive. Accepts declares that set in place of the multiple-inheritance
// "is-a SignatureSubscriber, is-a AccountSubscriber" dispatch the original
// engine used; the supervisor itself routes frames by kind and by its own
// subscription-id handler maps and does not call Accepts.
type Kind int

const (
	KindResponse Kind = iota
	KindSlotNotification
	KindAccountNotification
	KindSignatureNotification
)

// Dispatchable is implemented by every composite and mirror type the
// supervisor routes frames to.
type Dispatchable interface {
	Accepts(Kind) bool
}
