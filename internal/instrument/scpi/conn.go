// Package scpi drives bench instruments and the unit under test over a
// line-oriented SCPI session on TCP or a serial port.
package scpi

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"

	"attencal/internal/hw"
)

// DefaultTimeout bounds every query round trip.
const DefaultTimeout = 5 * time.Second

// scpiNaN is the magnitude instruments return, with either sign, for "no
// reading".
const scpiNaN = 9.9e37

// Conn is one SCPI session. Commands are newline terminated and answered,
// for queries, with a single line.
type Conn struct {
	rw      io.ReadWriteCloser
	r       *bufio.Reader
	timeout time.Duration
	logger  *logrus.Logger
	mu      sync.Mutex
}

// NewConn wraps an open transport.
func NewConn(rw io.ReadWriteCloser, logger *logrus.Logger) *Conn {
	return &Conn{
		rw:      rw,
		r:       bufio.NewReader(rw),
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Dial opens address, either tcp://host:port (the default when no scheme is
// given) or serial:///dev/ttyUSB0?baud=115200.
func Dial(address string, logger *logrus.Logger) (*Conn, error) {
	if !strings.Contains(address, "://") {
		address = "tcp://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid instrument address %q: %w", address, err)
	}

	switch u.Scheme {
	case "tcp":
		c, err := net.DialTimeout("tcp", u.Host, DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", u.Host, err)
		}
		return NewConn(c, logger), nil
	case "serial":
		baud := 115200
		if b := u.Query().Get("baud"); b != "" {
			if baud, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("invalid baud rate %q: %w", b, err)
			}
		}
		port, err := serial.Open(serial.OpenOptions{
			PortName:              u.Path,
			BaudRate:              uint(baud),
			DataBits:              8,
			ParityMode:            serial.PARITY_NONE,
			StopBits:              1,
			MinimumReadSize:       1,
			InterCharacterTimeout: 100,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", u.Path, err)
		}
		return NewConn(port, logger), nil
	}
	return nil, fmt.Errorf("unsupported instrument transport %q", u.Scheme)
}

// SetTimeout changes the round trip deadline. It only applies to transports
// that support deadlines.
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Conn) deadline() {
	if d, ok := c.rw.(interface{ SetDeadline(time.Time) error }); ok && c.timeout > 0 {
		d.SetDeadline(time.Now().Add(c.timeout))
	}
}

// Command sends cmd without waiting for an answer.
func (c *Conn) Command(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(cmd)
}

func (c *Conn) send(cmd string) error {
	c.deadline()
	c.logger.WithField("cmd", cmd).Debug("SCPI command")
	if _, err := io.WriteString(c.rw, cmd+"\n"); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

// Query sends cmd and returns the answer line without its terminator.
func (c *Conn) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(cmd); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read answer to %q: %w", cmd, err)
	}
	line = strings.TrimSpace(line)
	c.logger.WithFields(logrus.Fields{"cmd": cmd, "answer": line}).Debug("SCPI answer")
	return line, nil
}

// QueryFloat sends cmd and parses the first comma separated field of the
// answer. The SCPI not-a-number value is reported as hw.ErrInvalidReading.
func (c *Conn) QueryFloat(cmd string) (float64, error) {
	answer, err := c.Query(cmd)
	if err != nil {
		return 0, err
	}
	field := strings.TrimSpace(strings.SplitN(answer, ",", 2)[0])
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q answered %q", hw.ErrInvalidReading, cmd, answer)
	}
	if math.Abs(v) >= scpiNaN {
		return 0, hw.ErrInvalidReading
	}
	return hw.CheckReading(v, nil)
}

// Close closes the transport.
func (c *Conn) Close() error {
	return c.rw.Close()
}
