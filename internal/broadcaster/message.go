package broadcaster

// Message is the item type produced by the network sources.
type Message struct {
	From    string `json:"from"`
	Payload []byte `json:"payload"`
}

func (m Message) String() string {
	return m.From + ": " + string(m.Payload)
}
