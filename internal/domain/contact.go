package domain

import "strings"

// Contact is the enrolled prospect as seen by the engine.
type Contact struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
}

func (c Contact) Name() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Sender is the resolved outbound identity of the sequence owner.
type Sender struct {
	Email string
	Name  string
	// Mailbox is true when the address came from a dedicated mailbox
	// connection rather than the owner's primary address.
	Mailbox bool
}

type DeliveryRoute struct {
	Contact Contact
	Sender  Sender
}
