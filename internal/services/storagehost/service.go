// Package storagehost powers the machine holding the duplicacy storage on
// before a run (Wake-on-LAN) and off afterwards (SSH).
package storagehost

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/makebackup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for storage host power management.
type Service interface {
	Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error)
	PowerOff(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error)
	TestConnection(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the storagehost Service interface.
type Impl struct {
	waker      Waker
	httpClient HTTPClient
	dialer     Dialer
	logger     zerolog.Logger
}

// New creates a new storage host service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		waker: &MagicPacketWaker{},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		dialer: &SSHDialer{},
		logger: logger,
	}
}

// NewWithClients creates a new storage host service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, waker Waker, httpClient HTTPClient, dialer Dialer) *Impl {
	return &Impl{
		waker:      waker,
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
	}
}

// Wake sends a magic packet and, when PollURL is set, waits until the host
// answers HTTP and then for StabilizeWait.
func (s *Impl) Wake(ctx context.Context, cfg models.WakeConfig) (*models.WakeResult, error) {
	result := &models.WakeResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = errors.Wrapf(err, "invalid MAC address %q", cfg.MACAddress)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("waking storage host")

	if err := s.waker.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct
	}
	result.PacketSent = true

	if cfg.PollURL == "" {
		result.HostReady = true
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	if err := s.pollUntilReady(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("letting storage host settle")
		if err := sleep(ctx, cfg.StabilizeWait); err != nil {
			result.WaitDuration = time.Since(start)
			result.Error = err
			return result, nil //nolint:nilerr // error is stored in result struct
		}
	}

	result.HostReady = true
	result.WaitDuration = time.Since(start)
	s.logger.Info().Dur("waited", result.WaitDuration).Msg("storage host is up")
	return result, nil
}

func (s *Impl) pollUntilReady(ctx context.Context, cfg models.WakeConfig) error {
	s.logger.Info().
		Str("url", cfg.PollURL).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for storage host")

	deadline := time.Now().Add(cfg.Timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return errors.Newf("storage host did not answer at %s within %s", cfg.PollURL, cfg.Timeout)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return errors.Wrap(err, "creating poll request")
		}
		resp, err := s.httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
			s.logger.Debug().Int("status", resp.StatusCode).Msg("storage host not ready yet")
		} else {
			s.logger.Debug().Err(err).Msg("storage host not reachable yet")
		}

		if err := sleep(ctx, cfg.PollInterval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ShutdownCommand returns the remote command that powers the host off.
func ShutdownCommand(delayMinutes int) string {
	if delayMinutes <= 0 {
		return "sudo shutdown -h now"
	}
	return "sudo shutdown -h +" + strconv.Itoa(delayMinutes)
}

// PowerOff schedules a shutdown of the storage host. A dropped connection
// after the command was sent is logged, not returned.
func (s *Impl) PowerOff(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("delay", cfg.Delay).
		Msg("powering off storage host")

	result, err := s.runRemote(ctx, cfg, ShutdownCommand(cfg.Delay))
	if err != nil {
		return result, err
	}
	if result.Error != nil && result.CommandRun && ctx.Err() == nil {
		s.logger.Warn().Err(result.Error).Str("output", result.Output).Msg("shutdown command returned error (may be expected)")
		result.Error = nil
	}
	return result, nil
}

// TestConnection verifies that the storage host accepts the SSH credentials.
func (s *Impl) TestConnection(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error) {
	s.logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("testing SSH connection")
	return s.runRemote(ctx, cfg, "echo OK")
}

func (s *Impl) runRemote(ctx context.Context, cfg models.ShutdownConfig, command string) (*models.ShutdownResult, error) {
	result := &models.ShutdownResult{}

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	type dialed struct {
		session Session
		err     error
	}
	ch := make(chan dialed, 1)
	go func() {
		sess, err := s.dialer.Dial(addr, clientCfg)
		ch <- dialed{sess, err}
	}()

	var session Session
	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		return result, nil
	case d := <-ch:
		if d.err != nil {
			result.Error = errors.Wrapf(d.err, "connecting to %s", addr)
			return result, nil
		}
		session = d.session
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("command", command).Msg("running remote command")
	out, err := session.CombinedOutput(command)
	result.CommandRun = true
	result.Output = string(out)
	if err != nil {
		result.Error = errors.Wrapf(err, "remote command %q", command)
	}
	return result, nil
}

func clientConfig(cfg models.ShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, errors.New("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, errors.Wrapf(err, "reading private key %s", cfg.KeyPath)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // storage host on the local network
		Timeout:         30 * time.Second,
	}, nil
}
