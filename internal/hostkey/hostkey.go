// Package hostkey verifies SSH host keys against an OpenSSH known_hosts
// file under one of three policies.
package hostkey

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	vrperr "vrpterm/internal/errors"
	"vrpterm/util"
)

// Policy selects how unknown and changed host keys are treated.
type Policy string

const (
	// KnownHosts accepts only keys already present in known_hosts.
	KnownHosts Policy = "known-hosts"
	// TOFU records the key of a host seen for the first time and
	// rejects any later change.
	TOFU Policy = "tofu"
	// Insecure accepts every key.  Each connection logs a warning.
	Insecure Policy = "insecure"
)

// ParsePolicy validates a policy name.  The empty string selects TOFU.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return TOFU, nil
	case KnownHosts, TOFU, Insecure:
		return p, nil
	default:
		return "", &vrperr.ConfigError{
			Field:   "host-key-policy",
			Value:   s,
			Message: "unknown policy",
			Hint:    "use known-hosts, tofu or insecure",
		}
	}
}

// RejectedError is returned from the host-key callback when a key is
// refused.  It reaches callers wrapped in a ConnectionFailed error.
type RejectedError struct {
	Host        string
	Fingerprint string // SHA256 fingerprint of the presented key
	Changed     bool   // true: a different key is on record; false: host unknown
}

func (e *RejectedError) Error() string {
	if e.Changed {
		return fmt.Sprintf("host key for %s changed (now %s); possible man-in-the-middle, remove the old entry from known_hosts to continue",
			e.Host, e.Fingerprint)
	}
	return fmt.Sprintf("host key for %s is not in known_hosts (%s)", e.Host, e.Fingerprint)
}

// DefaultPath returns ~/.ssh/known_hosts.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// Verifier produces host-key callbacks.  It is safe for concurrent use;
// sessions share one Verifier so TOFU writes are serialised.
type Verifier struct {
	policy Policy
	path   string
	logger *util.Logger

	mu sync.Mutex
}

// New returns a Verifier.  An empty path selects DefaultPath.
func New(policy Policy, path string, logger *util.Logger) (*Verifier, error) {
	if policy == "" {
		policy = TOFU
	}
	if path == "" && policy != Insecure {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Verifier{policy: policy, path: path, logger: logger}, nil
}

// Policy returns the configured policy.
func (v *Verifier) Policy() Policy { return v.policy }

// Callback returns the ssh.HostKeyCallback for a ClientConfig.
func (v *Verifier) Callback() ssh.HostKeyCallback {
	return v.check
}

func (v *Verifier) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	fp := ssh.FingerprintSHA256(key)

	if v.policy == Insecure {
		v.logger.Warn().Str("host", hostname).Str("fingerprint", fp).
			Msg("host key not verified (insecure policy)")
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ensureFile(v.path); err != nil {
		return err
	}
	// Re-read on every connection: other processes (and ssh(1)) may
	// have edited the file.
	cb, err := knownhosts.New(v.path)
	if err != nil {
		return fmt.Errorf("loading known_hosts from %s: %w", v.path, err)
	}

	err = cb(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !vrperr.As(err, &keyErr) {
		// *knownhosts.RevokedError and parse failures.
		return err
	}
	if len(keyErr.Want) > 0 {
		return &RejectedError{Host: hostname, Fingerprint: fp, Changed: true}
	}
	if v.policy != TOFU {
		return &RejectedError{Host: hostname, Fingerprint: fp}
	}

	if err := appendHost(v.path, hostname, key); err != nil {
		return fmt.Errorf("recording host key: %w", err)
	}
	v.logger.Info().Str("host", hostname).Str("fingerprint", fp).
		Msg("new host key recorded in known_hosts")
	return nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening known_hosts: %w", err)
	}
	return f.Close()
}

func appendHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
