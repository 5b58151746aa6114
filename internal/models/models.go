package models

// Room is the shared document backing one chat room. The JSON field names
// are the document field names in the remote store; clients never mutate a
// Room struct directly, they issue partial updates against the document.
type Room struct {
	ID           string            `json:"-"`
	Created      int64             `json:"created"`
	MessageCount int64             `json:"messageCount"`
	LastActivity int64             `json:"lastActivity"`
	Participants map[string]string `json:"participants"`
	Messages     []Envelope        `json:"messages"`
}

// Envelope is one ciphertext copy of a message, addressed to exactly one
// recipient. A message sent to R participants appends R envelopes sharing
// the same timestamp and sender but differing recipient and ciphertext.
type Envelope struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Encrypted string `json:"encrypted"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

// Identity is the local participant's key material for one room. The
// private key may itself be passphrase-protected; Passphrase is empty for
// unprotected keys.
type Identity struct {
	Name       string `json:"name"`
	PrivateKey string `json:"privateKey"`
	Passphrase string `json:"passphrase"`
}

// Message is a decrypted timeline entry as shown to the local user.
// Decrypted is false when the ciphertext could not be opened and Text holds
// a placeholder.
type Message struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Own       bool   `json:"own"`
	Decrypted bool   `json:"decrypted"`
}
