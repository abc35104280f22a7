package log

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/pflag"
)

// Config configures the process logger.
type Config struct {
	// Level is the minimum record level to log. Either 'debug', 'info', 'warn'
	// or 'error'.
	Level string `json:"level" yaml:"level"`

	// Subsystems enables debug logs for the given subsystems and their
	// children, regardless of Level.
	Subsystems []string `json:"subsystems" yaml:"subsystems"`
}

func (c *Config) Validate() error {
	if c.Level == "" {
		return fmt.Errorf("missing level")
	}
	if _, err := zapLevelFromString(c.Level); err != nil {
		return err
	}
	for _, subsystem := range c.Subsystems {
		if subsystem == "" || strings.HasPrefix(subsystem, ".") ||
			strings.HasSuffix(subsystem, ".") {
			return fmt.Errorf("invalid subsystem: %q", subsystem)
		}
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Level,
		"log.level",
		c.Level,
		`
Minimum log level to output.

The available levels are 'debug', 'info', 'warn' and 'error'.`,
	)
	fs.StringSliceVar(
		&c.Subsystems,
		"log.subsystems",
		c.Subsystems,
		`
Each log has a 'subsystem' field where the log occured.

'--log.subsystems' enables all log levels for those given subsystems. This
can be useful to debug a particular subsystem without having to enable all
debug logs.

Enabling a subsystem also enables its children, such as '--log.subsystems
gossip' enables both 'gossip' and 'gossip.failure' logs.`,
	)
}

// AccessLogHeaderConfig selects which headers are included in access logs.
// At most one of Allowlist and Blocklist may be set. Header names are case
// insensitive.
type AccessLogHeaderConfig struct {
	// Blocklist contains headers that are never logged.
	Blocklist []string `json:"blocklist" yaml:"blocklist"`

	// Allowlist contains the only headers that are logged.
	Allowlist []string `json:"allowlist" yaml:"allowlist"`
}

func (c *AccessLogHeaderConfig) Validate() error {
	if len(c.Allowlist) > 0 && len(c.Blocklist) > 0 {
		return fmt.Errorf("cannot define both allowlist and blocklist")
	}
	return nil
}

// Filter returns a copy of h containing only the headers to log. h itself is
// never modified as it may be the live request or response headers.
func (c *AccessLogHeaderConfig) Filter(h http.Header) http.Header {
	filtered := h.Clone()
	if filtered == nil {
		filtered = http.Header{}
	}

	if len(c.Allowlist) > 0 {
		allowed := make(map[string]struct{}, len(c.Allowlist))
		for _, name := range c.Allowlist {
			allowed[http.CanonicalHeaderKey(name)] = struct{}{}
		}
		for name := range filtered {
			if _, ok := allowed[http.CanonicalHeaderKey(name)]; !ok {
				delete(filtered, name)
			}
		}
		return filtered
	}

	for _, name := range c.Blocklist {
		filtered.Del(name)
	}
	return filtered
}

func (c *AccessLogHeaderConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	fs.StringSliceVar(
		&c.Allowlist,
		prefix+"allowlist",
		c.Allowlist,
		`
Headers to include in access logs. All other headers are omitted.

Cannot be used with the blocklist.`,
	)
	fs.StringSliceVar(
		&c.Blocklist,
		prefix+"blocklist",
		c.Blocklist,
		`
Headers to omit from access logs, such as 'Authorization'.

Cannot be used with the allowlist.`,
	)
}

// AccessLogConfig configures logging of admin API requests.
type AccessLogConfig struct {
	// Disable logs requests at 'debug' rather than 'info'. Failed requests
	// are always logged at 'warn'.
	Disable bool `json:"disable" yaml:"disable"`

	RequestHeaders AccessLogHeaderConfig `json:"request_headers" yaml:"request_headers"`

	ResponseHeaders AccessLogHeaderConfig `json:"response_headers" yaml:"response_headers"`
}

func (c *AccessLogConfig) Validate() error {
	if err := c.RequestHeaders.Validate(); err != nil {
		return fmt.Errorf("request headers: %w", err)
	}
	if err := c.ResponseHeaders.Validate(); err != nil {
		return fmt.Errorf("response headers: %w", err)
	}
	return nil
}

func (c *AccessLogConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	prefix = prefix + ".access-log."
	fs.BoolVar(
		&c.Disable,
		prefix+"disable",
		c.Disable,
		`
Whether to disable access logging of admin API requests.

When disabled, requests are still logged at 'debug' level and failed
requests at 'warn'.`,
	)
	c.RequestHeaders.RegisterFlags(fs, prefix+"request-headers.")
	c.ResponseHeaders.RegisterFlags(fs, prefix+"response-headers.")
}
