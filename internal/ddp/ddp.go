// Package ddp implements spec.md C3, the UDP-based Device Discovery
// Protocol: an HTTP/1.1-like text protocol used to search for, poll the
// status of, wake, and launch an application on a console, plus a
// long-running Tracker that keeps per-device poll state.
//
// Grounded on original_source/pyremoteplay/ddp.py (message building/parsing)
// and protocol.py's DDPProtocol (poll-count/standby-backoff state machine),
// in the Go idiom of moonlight-common-go/video/stream.go's deadline-polling
// receive loop.
package ddp

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/ktnrg45/goremoteplay/internal/profile"
)

const (
	// ddpVersion is the literal wire value for device-discovery-protocol-version.
	ddpVersion = "00030010"

	verbSearch = "SRCH"
	verbWakeup = "WAKEUP"
	verbLaunch = "LAUNCH"

	// StatusOK and StatusStandby are the DDP status codes a console reports.
	StatusOK      = 200
	StatusStandby = 620

	// DefaultPollInterval is the Tracker's tick interval.
	DefaultPollInterval = time.Second
	// DefaultMaxPolls bounds consecutive unanswered polls before a device's
	// status is cleared.
	DefaultMaxPolls = 5
	// DefaultStandbyDelay is how long directed polling is suppressed after
	// observing an OK->STANDBY transition.
	DefaultStandbyDelay = 50 * time.Second
)

// portFor maps a console kind to its DDP UDP port.
var portFor = map[profile.ConsoleKind]int{
	profile.ConsolePS4: 987,
	profile.ConsolePS5: 9302,
}

// DeviceStatus is the decoded form of a DDP response's key/value headers.
type DeviceStatus struct {
	Code            int    `mapstructure:"-"`
	Status          string `mapstructure:"-"`
	HostID          string `mapstructure:"host-id"`
	HostName        string `mapstructure:"host-name"`
	HostType        string `mapstructure:"host-type"`
	HostRequestPort string `mapstructure:"host-request-port"`
	RunningAppName  string `mapstructure:"running-app-name"`
	RunningAppTitleID string `mapstructure:"running-app-titleid"`
}

// buildMessage renders a DDP request, matching
// original_source/pyremoteplay/ddp.py:get_ddp_message.
func buildMessage(verb string, headers map[string]string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s * HTTP/1.1\n", verb)
	for k, v := range headers {
		fmt.Fprintf(&b, "%s:%s\n", k, v)
	}
	fmt.Fprintf(&b, "device-discovery-protocol-version:%s\n", ddpVersion)
	return []byte(b.String())
}

// BuildSearchMessage builds an SRCH request.
func BuildSearchMessage() []byte { return buildMessage(verbSearch, nil) }

// BuildWakeupMessage builds a WAKEUP request carrying a registered credential.
func BuildWakeupMessage(userCredential string) []byte {
	return buildMessage(verbWakeup, map[string]string{
		"user-credential": userCredential,
	})
}

// BuildLaunchMessage builds a LAUNCH request.
func BuildLaunchMessage(userCredential string) []byte {
	return buildMessage(verbLaunch, map[string]string{
		"user-credential": userCredential,
	})
}

// ParseResponse parses a raw DDP response datagram into a status code,
// reason, and key/value headers. Every header line is split on its first
// colon only, so a running-app-name value that itself contains colons is
// kept whole.
func ParseResponse(data []byte) (code int, reason string, headers map[string]string, err error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	headers = make(map[string]string)

	if !scanner.Scan() {
		return 0, "", nil, fmt.Errorf("ddp: empty response")
	}
	first := scanner.Text()
	const prefix = "HTTP/1.1 "
	if !strings.HasPrefix(first, prefix) {
		return 0, "", nil, fmt.Errorf("ddp: malformed status line %q", first)
	}
	rest := strings.TrimPrefix(first, prefix)
	parts := strings.SplitN(rest, " ", 2)
	code, convErr := strconv.Atoi(parts[0])
	if convErr != nil {
		return 0, "", nil, fmt.Errorf("ddp: malformed status code %q", parts[0])
	}
	if len(parts) == 2 {
		reason = parts[1]
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := line[:idx]
		value := line[idx+1:]
		headers[key] = value
	}
	return code, reason, headers, nil
}

// DecodeDeviceStatus decodes a parsed header map into a typed DeviceStatus
// via mapstructure. running-app-name is preserved verbatim from the header
// map (its value may itself contain colons, already handled by
// ParseResponse's first-colon split), not re-parsed.
func DecodeDeviceStatus(code int, reason string, headers map[string]string) (DeviceStatus, error) {
	raw := make(map[string]any, len(headers))
	for k, v := range headers {
		raw[k] = v
	}
	var ds DeviceStatus
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ds,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return DeviceStatus{}, fmt.Errorf("ddp: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return DeviceStatus{}, fmt.Errorf("ddp: decode status: %w", err)
	}
	ds.Code = code
	ds.Status = reason
	return ds, nil
}

// PortFor returns the DDP UDP port associated with a console kind.
func PortFor(kind profile.ConsoleKind) (int, bool) {
	p, ok := portFor[kind]
	return p, ok
}

// Search broadcasts an SRCH request to addr:port and collects responses
// until timeout elapses.
func Search(addr string, port int, timeout time.Duration) ([]DeviceStatus, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("ddp: listen: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.ParseIP(addr), Port: port}
	if _, err := conn.WriteToUDP(BuildSearchMessage(), dst); err != nil {
		return nil, fmt.Errorf("ddp: send search: %w", err)
	}

	deadline := time.Now().Add(timeout)
	var results []DeviceStatus
	buf := make([]byte, 1024)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return nil, fmt.Errorf("ddp: read: %w", err)
		}
		code, reason, headers, err := ParseResponse(buf[:n])
		if err != nil {
			continue
		}
		ds, err := DecodeDeviceStatus(code, reason, headers)
		if err != nil {
			continue
		}
		results = append(results, ds)
	}
	return results, nil
}

// Status queries a single device's status with a directed request.
func Status(addr string, port int, timeout time.Duration) (DeviceStatus, error) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(addr), Port: port})
	if err != nil {
		return DeviceStatus{}, fmt.Errorf("ddp: dial: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(BuildSearchMessage()); err != nil {
		return DeviceStatus{}, fmt.Errorf("ddp: send status probe: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return DeviceStatus{}, err
	}
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return DeviceStatus{}, fmt.Errorf("ddp: read status: %w", err)
	}
	code, reason, headers, err := ParseResponse(buf[:n])
	if err != nil {
		return DeviceStatus{}, err
	}
	return DecodeDeviceStatus(code, reason, headers)
}

// Wakeup sends a WAKEUP request with a registered credential.
func Wakeup(addr string, port int, credential string) error {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(addr), Port: port})
	if err != nil {
		return fmt.Errorf("ddp: dial: %w", err)
	}
	defer conn.Close()
	_, err = conn.Write(BuildWakeupMessage(credential))
	return err
}

// Launch sends a LAUNCH request with a registered credential.
func Launch(addr string, port int, credential string) error {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(addr), Port: port})
	if err != nil {
		return fmt.Errorf("ddp: dial: %w", err)
	}
	defer conn.Close()
	_, err = conn.Write(BuildLaunchMessage(credential))
	return err
}
