package storagehost

import (
	"net"

	"github.com/cockroachdb/errors"
	"github.com/mdlayher/wol"
	"golang.org/x/crypto/ssh"
)

// Waker sends Wake-on-LAN packets.
type Waker interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// MagicPacketWaker sends magic packets over UDP port 9 using mdlayher/wol.
type MagicPacketWaker struct{}

// Wake sends a magic packet for mac to broadcastIP.
func (w *MagicPacketWaker) Wake(broadcastIP string, mac net.HardwareAddr) error {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return errors.Newf("invalid broadcast IP: %s", broadcastIP)
	}

	client, err := wol.NewClient()
	if err != nil {
		return errors.Wrap(err, "creating WOL client")
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return errors.Wrap(err, "sending WOL packet")
	}
	return nil
}

// Session is a single remote command session.
type Session interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// Dialer opens a command session on a remote host.
type Dialer interface {
	Dial(addr string, cfg *ssh.ClientConfig) (Session, error)
}

// SSHDialer dials with golang.org/x/crypto/ssh.
type SSHDialer struct{}

// Dial connects to addr and opens one session. Closing the session also
// closes the connection.
func (d *SSHDialer) Dial(addr string, cfg *ssh.ClientConfig) (Session, error) {
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "creating session")
	}
	return &sshSession{client: client, session: session}, nil
}

type sshSession struct {
	client  *ssh.Client
	session *ssh.Session
}

func (s *sshSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *sshSession) Close() error {
	_ = s.session.Close()
	return s.client.Close()
}
