/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/coreos/go-semver/semver"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// lineTerminators are the characters that end a line. Go's strings package does not treat all
// Unicode line terminators as starting a new line, so we check for the specific characters here.
// https://en.wikipedia.org/wiki/Newline#Unicode
const lineTerminators = "\n\r\v\f\u0085\u2028\u2029"

// SingleLineString is a string that contains at most one line. It is used in cases where we
// accept input for a configuration file and want to ensure a user can't smuggle in a new line
// with extra configuration.
type SingleLineString string

func NewSingleLineString(input string) (SingleLineString, error) {
	if strings.ContainsAny(input, lineTerminators) {
		return "", typederrors.NewInvalidInputError(
			nil, "single line string contains a line terminator",
		)
	}
	return SingleLineString(input), nil
}

func (v *SingleLineString) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewSingleLineString(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// ValidBase64 is a string holding valid standard (padded) base64 text. It stores the original
// text, not the decoded form; decoding happens in the templates that need the payload.
type ValidBase64 string

func NewValidBase64(input string) (ValidBase64, error) {
	_, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", typederrors.NewInvalidInputError(err, "invalid base64: %v", err)
	}
	return ValidBase64(input), nil
}

func (v *ValidBase64) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewValidBase64(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// Decoded returns the decoded payload.
func (v ValidBase64) Decoded() []byte {
	decoded, err := base64.StdEncoding.DecodeString(string(v))
	if err != nil {
		// Only reachable by bypassing the constructor.
		panic(err)
	}
	return decoded
}

var identifierRE = regexp.MustCompile(`^[a-zA-Z0-9-]{1,63}$`)

// Identifier names things we create, like services, configuration files and host containers.
type Identifier string

func NewIdentifier(input string) (Identifier, error) {
	if err := matchPattern("identifier", input, identifierRE); err != nil {
		return "", err
	}
	return Identifier(input), nil
}

func (v *Identifier) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewIdentifier(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// URL is a string that parses as a URL with a scheme.
type URL string

func NewURL(input string) (URL, error) {
	parsed, err := url.Parse(input)
	if err != nil {
		return "", typederrors.NewInvalidInputError(err, "invalid URL %q: %v", input, err)
	}
	if parsed.Scheme == "" {
		return "", typederrors.NewInvalidInputError(nil, "URL %q has no scheme", input)
	}
	return URL(input), nil
}

func (v *URL) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewURL(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// Host returns the host portion of the URL.
func (v URL) Host() string {
	parsed, err := url.Parse(string(v))
	if err != nil {
		return ""
	}
	return parsed.Host
}

// FriendlyVersion is a semantic version that also accepts a leading 'v' and a missing patch
// component, like "v1.2"; it is stored as given.
type FriendlyVersion string

func NewFriendlyVersion(input string) (FriendlyVersion, error) {
	if _, err := parseFriendlyVersion(input); err != nil {
		return "", err
	}
	return FriendlyVersion(input), nil
}

func parseFriendlyVersion(input string) (*semver.Version, error) {
	trimmed := strings.TrimPrefix(input, "v")
	if strings.Count(trimmed, ".") == 1 {
		trimmed += ".0"
	}
	version, err := semver.NewVersion(trimmed)
	if err != nil {
		return nil, typederrors.NewInvalidInputError(err, "invalid version %q: %v", input, err)
	}
	return version, nil
}

func (v *FriendlyVersion) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewFriendlyVersion(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// Semver returns the parsed form of the version.
func (v FriendlyVersion) Semver() *semver.Version {
	version, err := parseFriendlyVersion(string(v))
	if err != nil {
		panic(err)
	}
	return version
}

var dnsDomainRE = regexp.MustCompile(
	`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`,
)

// DNSDomain is an RFC 1123 domain name.
type DNSDomain string

func NewDNSDomain(input string) (DNSDomain, error) {
	if len(input) > 253 {
		return "", typederrors.NewInvalidInputError(
			nil, "domain name is longer than the maximum of 253 characters",
		)
	}
	if err := matchPattern("domain name", input, dnsDomainRE); err != nil {
		return "", err
	}
	return DNSDomain(input), nil
}

func (v *DNSDomain) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewDNSDomain(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

var hostnameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]{0,251}[a-z0-9])?$`)

// ValidLinuxHostname is a hostname the kernel will accept.
type ValidLinuxHostname string

func NewValidLinuxHostname(input string) (ValidLinuxHostname, error) {
	if err := matchPattern("hostname", input, hostnameRE); err != nil {
		return "", err
	}
	return ValidLinuxHostname(input), nil
}

func (v *ValidLinuxHostname) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewValidLinuxHostname(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// InterfaceName is a Linux network interface name: 1 to 15 bytes with no whitespace, '.', '/'
// or line terminators.
type InterfaceName string

func NewInterfaceName(input string) (InterfaceName, error) {
	if len(input) < 1 || len(input) > 15 {
		return "", typederrors.NewInvalidInputError(
			nil, "interface name must be between 1 and 15 characters",
		)
	}
	if strings.ContainsAny(input, " \t./"+lineTerminators) {
		return "", typederrors.NewInvalidInputError(
			nil, "interface name %q contains forbidden characters", input,
		)
	}
	return InterfaceName(input), nil
}

func (v *InterfaceName) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewInterfaceName(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

var macAddressRE = regexp.MustCompile(
	`^[0-9a-fA-F]{2}([:-][0-9a-fA-F]{2}){5}$`,
)

// MacAddress is a hardware address of six hex octets. Input may use ':' or '-' separators and
// any letter case; the canonical stored form is lower case with ':' separators.
type MacAddress string

func NewMacAddress(input string) (MacAddress, error) {
	if err := matchPattern("MAC address", input, macAddressRE); err != nil {
		return "", err
	}
	// The character class above lets each separator independently be ':' or '-'; an address
	// must use one or the other throughout.
	if strings.Count(input, ":") != 5 && strings.Count(input, "-") != 5 {
		return "", typederrors.NewInvalidInputError(nil, "MAC address %q mixes separators", input)
	}
	canonical := strings.ToLower(strings.ReplaceAll(input, "-", ":"))
	return MacAddress(canonical), nil
}

func (v *MacAddress) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewMacAddress(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// IPAddress is a v4 or v6 address.
type IPAddress string

func NewIPAddress(input string) (IPAddress, error) {
	if _, err := netip.ParseAddr(input); err != nil {
		return "", typederrors.NewInvalidInputError(err, "invalid IP address %q: %v", input, err)
	}
	return IPAddress(input), nil
}

func (v *IPAddress) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewIPAddress(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// CIDRBlock is an address block in CIDR notation.
type CIDRBlock string

func NewCIDRBlock(input string) (CIDRBlock, error) {
	if _, err := netip.ParsePrefix(input); err != nil {
		return "", typederrors.NewInvalidInputError(err, "invalid CIDR block %q: %v", input, err)
	}
	return CIDRBlock(input), nil
}

func (v *CIDRBlock) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewCIDRBlock(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// durationRE matches duration strings like "30m", "1h2m3s" or "1.5h", with optional fractional
// parts. The empty string is not a duration.
var durationRE = regexp.MustCompile(
	`^(([0-9]+\.)?[0-9]+h)?(([0-9]+\.)?[0-9]+m)?(([0-9]+\.)?[0-9]+s)?` +
		`(([0-9]+\.)?[0-9]+ms)?(([0-9]+\.)?[0-9]+(u|µ)s)?(([0-9]+\.)?[0-9]+ns)?$`,
)

// DurationValue is a duration string in the form accepted by Go and by the container agents.
type DurationValue string

func NewDurationValue(input string) (DurationValue, error) {
	if input == "" {
		return "", typederrors.NewInvalidInputError(nil, "duration can't be empty")
	}
	if err := matchPattern("duration", input, durationRE); err != nil {
		return "", err
	}
	return DurationValue(input), nil
}

func (v *DurationValue) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewDurationValue(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

var kmodKeyRE = regexp.MustCompile(`^[a-z0-9_-]{1,60}$`)

// KmodKey is a kernel module name, usable as a key under settings.kernel.modules.
type KmodKey string

func NewKmodKey(input string) (KmodKey, error) {
	if err := matchPattern("kernel module name", input, kmodKeyRE); err != nil {
		return "", err
	}
	return KmodKey(input), nil
}

func (v *KmodKey) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKmodKey(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

var sysctlKeyRE = regexp.MustCompile(`^[a-zA-Z0-9._/-]{1,128}$`)

// SysctlKey is a sysctl setting name, in either dotted or slash-separated form.
type SysctlKey string

func NewSysctlKey(input string) (SysctlKey, error) {
	if err := matchPattern("sysctl key", input, sysctlKeyRE); err != nil {
		return "", err
	}
	return SysctlKey(input), nil
}

func (v *SysctlKey) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewSysctlKey(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// PemCertificateString is a base64-encoded bundle of one or more x509 certificates in PEM
// format. The empty string is accepted so that a bundle can be cleared.
type PemCertificateString string

func NewPemCertificateString(input string) (PemCertificateString, error) {
	if input == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", typederrors.NewInvalidInputError(err, "certificate bundle is not valid base64: %v", err)
	}
	rest := decoded
	blocks := 0
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		blocks++
	}
	if blocks == 0 {
		return "", typederrors.NewInvalidInputError(nil, "certificate bundle contains no PEM blocks")
	}
	return PemCertificateString(input), nil
}

func (v *PemCertificateString) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewPemCertificateString(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// Lockdown is the kernel lockdown mode.
type Lockdown string

const (
	LockdownNone            Lockdown = "none"
	LockdownIntegrity       Lockdown = "integrity"
	LockdownConfidentiality Lockdown = "confidentiality"
)

func NewLockdown(input string) (Lockdown, error) {
	switch Lockdown(input) {
	case LockdownNone, LockdownIntegrity, LockdownConfidentiality:
		return Lockdown(input), nil
	}
	return "", typederrors.NewInvalidInputError(
		nil, "lockdown mode must be one of 'none', 'integrity' or 'confidentiality', got %q", input,
	)
}

func (v *Lockdown) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewLockdown(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// BootstrapContainerMode controls when a bootstrap container runs.
type BootstrapContainerMode string

const (
	BootstrapModeOff    BootstrapContainerMode = "off"
	BootstrapModeOnce   BootstrapContainerMode = "once"
	BootstrapModeAlways BootstrapContainerMode = "always"
)

func NewBootstrapContainerMode(input string) (BootstrapContainerMode, error) {
	switch BootstrapContainerMode(input) {
	case BootstrapModeOff, BootstrapModeOnce, BootstrapModeAlways:
		return BootstrapContainerMode(input), nil
	}
	return "", typederrors.NewInvalidInputError(
		nil, "bootstrap container mode must be one of 'off', 'once' or 'always', got %q", input,
	)
}

func (v *BootstrapContainerMode) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewBootstrapContainerMode(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// StringList is a list of single-line strings stored as a single composite value. Lists have no
// flat key representation, so the whole list is one scalar in the datastore.
type StringList []SingleLineString

func NewStringList(items ...string) (StringList, error) {
	result := make(StringList, 0, len(items))
	for _, item := range items {
		value, err := NewSingleLineString(item)
		if err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	return result, nil
}

func (v StringList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]SingleLineString(v))
}

func (v *StringList) UnmarshalJSON(data []byte) error {
	var items []SingleLineString
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*v = StringList(items)
	return nil
}

// Strings returns the plain string forms of the items.
func (v StringList) Strings() []string {
	result := make([]string, len(v))
	for i, item := range v {
		result[i] = string(item)
	}
	return result
}

// URLList is a list of URLs stored as a single composite value.
type URLList []URL

func (v URLList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]URL(v))
}

func (v *URLList) UnmarshalJSON(data []byte) error {
	var items []URL
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*v = URLList(items)
	return nil
}
