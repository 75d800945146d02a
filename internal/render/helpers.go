/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// Missing value policies accepted by join_map.
const (
	FailIfMissing   = "fail-if-missing"
	NoFailIfMissing = "no-fail-if-missing"
)

// helperFuncs returns the helper functions available inside templates, in addition to the sprig
// base set. Helper names use underscores because template function names must be identifiers.
func helperFuncs() template.FuncMap {
	return template.FuncMap{
		"base64_decode":       base64Decode,
		"join_map":            joinMap,
		"join_array":          joinArray,
		"default":             defaultValue,
		"any_enabled":         anyEnabled,
		"join_node_taints":    joinNodeTaints,
		"ecr_prefix":          ecrPrefix,
		"pause_prefix":        pausePrefix,
		"tuf_prefix":          tufPrefix,
		"metadata_prefix":     metadataPrefix,
		"host":                hostOf,
		"goarch":              goarch,
		"kube_reserve_cpu":    kubeReserveCpu,
		"kube_reserve_memory": kubeReserveMemory,
		"localhost_aliases":   localhostAliases,
		"etc_hosts_entries":   etcHostsEntries,
		"oci_defaults":        ociDefaults,
	}
}

// scalarString renders a template data value as the string it would naturally appear as in a
// configuration file.
func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", typederrors.NewTemplateRenderError(
			nil, "value %v of type %T is not a scalar", value, value,
		)
	}
}

// base64Decode decodes base64 text and re-emits it as UTF-8.
func base64Decode(value any) (string, error) {
	encoded, err := scalarString(value)
	if err != nil {
		return "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", typederrors.NewTemplateRenderError(err, "invalid base64: %v", err)
	}
	if !utf8.Valid(decoded) {
		return "", typederrors.NewTemplateRenderError(nil, "decoded base64 is not valid UTF-8")
	}
	return string(decoded), nil
}

// joinMap concatenates the keys and values of a map, with kvSep between each key and its value
// and pairSep between pairs. Keys are emitted in sorted order. The policy controls what happens
// when the map is absent: fail-if-missing fails the render, no-fail-if-missing emits nothing.
func joinMap(kvSep, pairSep, policy string, value any) (string, error) {
	switch policy {
	case FailIfMissing, NoFailIfMissing:
	default:
		return "", typederrors.NewTemplateRenderError(
			nil, "join_map policy must be %q or %q, got %q", FailIfMissing, NoFailIfMissing, policy,
		)
	}
	if value == nil {
		if policy == FailIfMissing {
			return "", typederrors.NewTemplateRenderError(nil, "join_map input is missing")
		}
		return "", nil
	}
	entries, ok := value.(map[string]any)
	if !ok {
		return "", typederrors.NewTemplateRenderError(
			nil, "join_map input must be a map, got %T", value,
		)
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		item, err := scalarString(entries[key])
		if err != nil {
			return "", err
		}
		pairs = append(pairs, key+kvSep+item)
	}
	return strings.Join(pairs, pairSep), nil
}

// joinArray concatenates the elements of an array with the given separator.
func joinArray(sep string, value any) (string, error) {
	if value == nil {
		return "", nil
	}
	items, ok := value.([]any)
	if !ok {
		return "", typederrors.NewTemplateRenderError(
			nil, "join_array input must be an array, got %T", value,
		)
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part, err := scalarString(item)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, sep), nil
}

// defaultValue returns the value if it is present and non-empty, and the fallback otherwise. The
// fallback comes first so templates read "default fallback value".
func defaultValue(fallback any, value ...any) any {
	if len(value) == 0 || value[0] == nil {
		return fallback
	}
	if s, ok := value[0].(string); ok && s == "" {
		return fallback
	}
	return value[0]
}

// anyEnabled reports whether any entry of the map has a truthy 'enabled' field.
func anyEnabled(value any) bool {
	entries, ok := value.(map[string]any)
	if !ok {
		return false
	}
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if enabled, ok := fields["enabled"].(bool); ok && enabled {
			return true
		}
	}
	return false
}

// joinNodeTaints turns the node-taints map into the kubelet's --register-with-taints form:
// "key=value:Effect" entries joined by commas, "key:Effect" when the value part is empty. Each
// taint key may carry a list of values.
func joinNodeTaints(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	entries, ok := value.(map[string]any)
	if !ok {
		return "", typederrors.NewTemplateRenderError(
			nil, "join_node_taints input must be a map, got %T", value,
		)
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var taints []string
	for _, key := range keys {
		var values []any
		switch entry := entries[key].(type) {
		case []any:
			values = entry
		default:
			values = []any{entry}
		}
		for _, item := range values {
			taint, err := scalarString(item)
			if err != nil {
				return "", err
			}
			if strings.HasPrefix(taint, ":") {
				taints = append(taints, key+taint)
			} else {
				taints = append(taints, key+"="+taint)
			}
		}
	}
	return strings.Join(taints, ","), nil
}

// Container registry accounts for the EKS system images, by partition.
var ecrAccounts = map[string]string{
	"cn-north-1":     "918309763551",
	"cn-northwest-1": "961992271922",
	"us-gov-east-1":  "151742754352",
	"us-gov-west-1":  "013241004608",
	"af-south-1":     "877085696533",
	"ap-east-1":      "800184023465",
	"eu-south-1":     "590381155156",
	"me-south-1":     "558608220178",
}

const defaultEcrAccount = "602401143452"

// regionSuffix returns the DNS suffix of the partition the region belongs to.
func regionSuffix(region string) string {
	if strings.HasPrefix(region, "cn-") {
		return "amazonaws.com.cn"
	}
	return "amazonaws.com"
}

// ecrPrefix maps a region to the registry prefix holding system container images.
func ecrPrefix(value any) (string, error) {
	region, err := scalarString(value)
	if err != nil {
		return "", err
	}
	account, ok := ecrAccounts[region]
	if !ok {
		account = defaultEcrAccount
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.%s", account, region, regionSuffix(region)), nil
}

// pausePrefix maps a region to the registry prefix holding the pause container image.
func pausePrefix(value any) (string, error) {
	return ecrPrefix(value)
}

// tufPrefix maps a region to the TUF repository endpoint updates are fetched from.
func tufPrefix(value any) (string, error) {
	region, err := scalarString(value)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(region, "cn-") {
		return "https://updates.basalt.aws.cn", nil
	}
	return "https://updates.basalt.aws", nil
}

// metadataPrefix maps a region to the update metadata endpoint.
func metadataPrefix(value any) (string, error) {
	prefix, err := tufPrefix(value)
	if err != nil {
		return "", err
	}
	return prefix + "/metadata", nil
}

// hostOf extracts the host portion of a URL.
func hostOf(value any) (string, error) {
	raw, err := scalarString(value)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", typederrors.NewTemplateRenderError(err, "invalid URL %q: %v", raw, err)
	}
	if parsed.Host == "" {
		return "", typederrors.NewTemplateRenderError(nil, "URL %q has no host", raw)
	}
	return parsed.Host, nil
}

// goarch maps a kernel architecture name to the Go architecture name used in image tags.
func goarch(value any) (string, error) {
	arch, err := scalarString(value)
	if err != nil {
		return "", err
	}
	switch arch {
	case "x86_64", "amd64":
		return "amd64", nil
	case "aarch64", "arm64":
		return "arm64", nil
	default:
		return "", typederrors.NewTemplateRenderError(nil, "unknown architecture %q", arch)
	}
}

// kubeReserveCpu computes the millicores to reserve for system daemons from the number of CPUs
// on the host: 6% of the first core, 1% of the second, 0.5% of the next two, 0.25% of the rest.
func kubeReserveCpu() string {
	total := runtime.NumCPU() * 1000
	reserved := 0.0
	remaining := float64(total)
	for _, tier := range []struct {
		limit    float64
		fraction float64
	}{
		{1000, 0.06},
		{1000, 0.01},
		{2000, 0.005},
		{0, 0.0025},
	} {
		portion := remaining
		if tier.limit > 0 && portion > tier.limit {
			portion = tier.limit
		}
		reserved += portion * tier.fraction
		remaining -= portion
		if remaining <= 0 {
			break
		}
	}
	return fmt.Sprintf("%dm", int(reserved))
}

// kubeReserveMemory computes the mebibytes to reserve for system daemons from the maximum pod
// count: a fixed floor plus a per-pod amount.
func kubeReserveMemory(value any) (string, error) {
	maxPods := 110.0
	if value != nil {
		raw, err := scalarString(value)
		if err != nil {
			return "", err
		}
		if raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return "", typederrors.NewTemplateRenderError(
					err, "max-pods %q is not a number: %v", raw, err,
				)
			}
			maxPods = parsed
		}
	}
	return fmt.Sprintf("%dMi", int(255+11*maxPods)), nil
}

// localhostAliases emits the loopback aliases line for /etc/hosts, with any extra aliases
// appended after the standard ones.
func localhostAliases(value any) (string, error) {
	aliases := []string{"localhost", "localhost.localdomain"}
	if value != nil {
		extra, err := joinArray(" ", value)
		if err != nil {
			return "", err
		}
		if extra != "" {
			aliases = append(aliases, extra)
		}
	}
	return strings.Join(aliases, " "), nil
}

// etcHostsEntries renders the static hosts table: one line per address with its aliases.
func etcHostsEntries(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	entries, ok := value.(map[string]any)
	if !ok {
		return "", typederrors.NewTemplateRenderError(
			nil, "etc_hosts_entries input must be a map, got %T", value,
		)
	}
	addresses := make([]string, 0, len(entries))
	for address := range entries {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	var lines []string
	for _, address := range addresses {
		aliases, err := joinArray(" ", entries[address])
		if err != nil {
			return "", err
		}
		lines = append(lines, address+" "+aliases)
	}
	return strings.Join(lines, "\n"), nil
}

// ociDefaults renders OCI runtime default settings as sorted "key = value" lines.
func ociDefaults(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	entries, ok := value.(map[string]any)
	if !ok {
		return "", typederrors.NewTemplateRenderError(
			nil, "oci_defaults input must be a map, got %T", value,
		)
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var lines []string
	for _, key := range keys {
		item, err := scalarString(entries[key])
		if err != nil {
			return "", err
		}
		lines = append(lines, key+" = "+item)
	}
	return strings.Join(lines, "\n"), nil
}
