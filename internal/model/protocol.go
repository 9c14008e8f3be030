package model

// Protocol is the access method used to reach the crawled tree.
type Protocol string

const (
	ProtocolLocal Protocol = "local"
	ProtocolSSH   Protocol = "ssh"
	ProtocolFTP   Protocol = "ftp"
)

// Protocols returns every supported protocol.
func Protocols() []Protocol {
	return []Protocol{ProtocolLocal, ProtocolSSH, ProtocolFTP}
}

// DefaultPort returns the well known port of a remote protocol or 0.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolSSH:
		return 22
	case ProtocolFTP:
		return 21
	default:
		return 0
	}
}

func (p Protocol) String() string {
	return string(p)
}
