package imapwire

import "fmt"

// TagGenerator hands out command tags A001, A002, ... for one connection.
// It is not safe for concurrent use; neither is the session it serves.
type TagGenerator struct {
	Prefix string
	n      uint32
}

// Next returns the next tag in sequence.
func (g *TagGenerator) Next() string {
	g.n++
	prefix := g.Prefix
	if prefix == "" {
		prefix = "A"
	}
	return fmt.Sprintf("%s%03d", prefix, g.n)
}
