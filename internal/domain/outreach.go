package domain

// GenerationRequest asks the content service to draft one email.
type GenerationRequest struct {
	Prompt      string
	Instruction string
	Subject     string
	Contact     Contact
}

type GeneratedContent struct {
	Subject   string
	Body      string
	Rationale string
}

// OutboundEmail is a rendered message ready for the delivery service.
type OutboundEmail struct {
	To          Contact
	From        Sender
	Subject     string
	HTML        string
	ExecutionID string
	MemberID    string
}

type SendReceipt struct {
	MessageID string
}
