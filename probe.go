package pydiscovery

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// The introspection script is embedded in the binary and materialized to a
// transient file per probe, so the target interpreter can execute it without
// this module shipping loose files.
//
//go:embed scripts/py_info.py
var pyInfoScript string

const cookieLength = 32

const cookieAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// genCookie returns a fresh random alphanumeric marker. Cookies let us split
// the serialized record from whatever else the interpreter prints on stdout
// (site customizations, warnings); they are written reversed on the wire so
// the argv value itself never appears verbatim in debug output and matches
// only the intended span.
func genCookie() string {
	out := make([]byte, cookieLength)
	for i := range out {
		out[i] = cookieAlphabet[rand.Intn(len(cookieAlphabet))]
	}
	return string(out)
}

func reverse(s string) string {
	out := []byte(s)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// extractPayload locates the reversed cookie markers within out and returns
// the enclosed payload plus any surrounding bytes, which belong to the
// subprocess and must not be silently dropped.
func extractPayload(out, startCookie, endCookie string) (payload, pre, post string) {
	payload = out
	if at := strings.Index(payload, reverse(startCookie)); at >= 0 {
		pre = payload[:at]
		payload = payload[at+cookieLength:]
	}
	if at := strings.Index(payload, reverse(endCookie)); at >= 0 {
		post = payload[at+cookieLength:]
		payload = payload[:at]
	}
	return payload, pre, post
}

// ProbeError describes a failed interpreter probe: spawn failure, non-zero
// exit, or an unparseable payload.
type ProbeError struct {
	Exe  string
	Code int
	Out  string
	Err  string
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("%s with code %d", e.Exe, e.Code)
	if e.Out != "" {
		msg += fmt.Sprintf(" out: %q", e.Out)
	}
	if e.Err != "" {
		msg += fmt.Sprintf(" err: %q", e.Err)
	}
	return "failed to query " + msg
}

// materializeProbeScript writes the embedded introspection script to a
// transient file. The returned cleanup must run regardless of the probe
// outcome.
func materializeProbeScript() (string, func(), error) {
	tmp, err := os.CreateTemp("", "py_info_*.py")
	if err != nil {
		return "", nil, fmt.Errorf("cannot materialize probe script: %w", err)
	}
	name := tmp.Name()
	cleanup := func() { os.Remove(name) }
	if _, err := tmp.WriteString(pyInfoScript); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("cannot materialize probe script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("cannot materialize probe script: %w", err)
	}
	return name, cleanup, nil
}

// runProbe launches exe on the introspection script and deserializes the
// record it reports. The wait is synchronous: stdout and stderr are fully
// drained and the process handle released before returning, error or not.
func (s *Session) runProbe(exe string, env []string) (*PythonInfo, error) {
	script, cleanup, err := materializeProbeScript()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	startCookie, endCookie := genCookie(), genCookie()
	cmd := exec.Command(exe, script, startCookie, endCookie)
	cmd.Env = scrubEnv(env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	s.logger.Debug("get interpreter info via cmd", zap.Strings("cmd", cmd.Args))

	if err := cmd.Run(); err != nil {
		probeErr := &ProbeError{Exe: exe, Out: stdout.String(), Err: stderr.String()}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			probeErr.Code = exitErr.ExitCode()
		} else {
			// spawn error, no exit code to report
			probeErr.Code = -1
			if probeErr.Err == "" {
				probeErr.Err = err.Error()
			}
		}
		return nil, probeErr
	}

	payload, pre, post := extractPayload(stdout.String(), startCookie, endCookie)
	// legitimate subprocess output outside the cookie span is re-emitted
	if pre != "" {
		os.Stdout.WriteString(pre)
	}
	if post != "" {
		os.Stdout.WriteString(post)
	}
	info, err := infoFromJSON(payload)
	if err != nil {
		return nil, &ProbeError{Exe: exe, Out: stdout.String(), Err: err.Error()}
	}
	// keep the invoked path: shim or launcher scripts may misreport their
	// own identity
	info.Executable = exe
	return info, nil
}
