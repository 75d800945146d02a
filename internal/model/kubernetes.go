/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"encoding/json"
	"regexp"
	"strings"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

var kubernetesNameRE = regexp.MustCompile(`^[0-9a-z.-]{1,253}$`)

// KubernetesName is a DNS subdomain style name usable for most Kubernetes objects.
type KubernetesName string

func NewKubernetesName(input string) (KubernetesName, error) {
	if err := matchPattern("Kubernetes name", input, kubernetesNameRE); err != nil {
		return "", err
	}
	return KubernetesName(input), nil
}

func (v *KubernetesName) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesName(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// Label keys have an optional DNS subdomain prefix and a name part of at most 63 characters.
var (
	kubernetesLabelKeyNameRE = regexp.MustCompile(
		`^[A-Za-z0-9]([A-Za-z0-9._-]{0,61}[A-Za-z0-9])?$`,
	)
	kubernetesLabelValueRE = regexp.MustCompile(
		`^([A-Za-z0-9]([A-Za-z0-9._-]{0,61}[A-Za-z0-9])?)?$`,
	)
)

// KubernetesLabelKey is a label or taint key.
type KubernetesLabelKey string

func NewKubernetesLabelKey(input string) (KubernetesLabelKey, error) {
	name := input
	if slash := strings.LastIndex(input, "/"); slash != -1 {
		prefix := input[:slash]
		name = input[slash+1:]
		if _, err := NewDNSDomain(prefix); err != nil {
			return "", typederrors.NewInvalidInputError(
				err, "label key prefix %q is not a valid domain name", prefix,
			)
		}
	}
	if err := matchPattern("label key name", name, kubernetesLabelKeyNameRE); err != nil {
		return "", err
	}
	return KubernetesLabelKey(input), nil
}

func (v *KubernetesLabelKey) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesLabelKey(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// KubernetesLabelValue is a label value; it may be empty.
type KubernetesLabelValue string

func NewKubernetesLabelValue(input string) (KubernetesLabelValue, error) {
	if err := matchPattern("label value", input, kubernetesLabelValueRE); err != nil {
		return "", err
	}
	return KubernetesLabelValue(input), nil
}

func (v *KubernetesLabelValue) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesLabelValue(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

var kubernetesTaintValueRE = regexp.MustCompile(
	`^([A-Za-z0-9]([A-Za-z0-9._-]{0,61}[A-Za-z0-9])?)?:(NoSchedule|PreferNoSchedule|NoExecute)$`,
)

// KubernetesTaintValue is a taint value and effect, like "value:NoSchedule" or ":NoExecute".
type KubernetesTaintValue string

func NewKubernetesTaintValue(input string) (KubernetesTaintValue, error) {
	if err := matchPattern("taint value", input, kubernetesTaintValueRE); err != nil {
		return "", err
	}
	return KubernetesTaintValue(input), nil
}

func (v *KubernetesTaintValue) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesTaintValue(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// TaintValueList is the list of taint values attached to one taint key, stored as a single
// composite value.
type TaintValueList []KubernetesTaintValue

func (v TaintValueList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]KubernetesTaintValue(v))
}

func (v *TaintValueList) UnmarshalJSON(data []byte) error {
	var items []KubernetesTaintValue
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*v = TaintValueList(items)
	return nil
}

var kubernetesClusterNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,253}$`)

// KubernetesClusterName is the name of the cluster the node joins.
type KubernetesClusterName string

func NewKubernetesClusterName(input string) (KubernetesClusterName, error) {
	if err := matchPattern("cluster name", input, kubernetesClusterNameRE); err != nil {
		return "", err
	}
	return KubernetesClusterName(input), nil
}

func (v *KubernetesClusterName) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesClusterName(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

var kubernetesThresholdRE = regexp.MustCompile(`^(100|[0-9]{1,2})(\.[0-9]{1,2})?%$`)

// KubernetesThresholdValue is a percentage threshold like "15%", used for eviction settings.
type KubernetesThresholdValue string

func NewKubernetesThresholdValue(input string) (KubernetesThresholdValue, error) {
	if err := matchPattern("threshold", input, kubernetesThresholdRE); err != nil {
		return "", err
	}
	return KubernetesThresholdValue(input), nil
}

func (v *KubernetesThresholdValue) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesThresholdValue(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// KubernetesDurationValue is a duration string, validated the same way as the generic duration.
type KubernetesDurationValue = DurationValue

var kubernetesQuantityRE = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(m|k|Ki|M|Mi|G|Gi|T|Ti)?$`)

// KubernetesQuantityValue is a resource quantity like "50m" or "2Gi".
type KubernetesQuantityValue string

func NewKubernetesQuantityValue(input string) (KubernetesQuantityValue, error) {
	if err := matchPattern("quantity", input, kubernetesQuantityRE); err != nil {
		return "", err
	}
	return KubernetesQuantityValue(input), nil
}

func (v *KubernetesQuantityValue) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesQuantityValue(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// EvictionThresholds maps eviction signals like "memory.available" to thresholds. Signal names
// contain dots, which would collide with the datastore key separator, so the whole map is stored
// as one composite value rather than as nested keys.
type EvictionThresholds map[SingleLineString]KubernetesThresholdValue

func (v EvictionThresholds) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[SingleLineString]KubernetesThresholdValue(v))
}

func (v *EvictionThresholds) UnmarshalJSON(data []byte) error {
	var entries map[SingleLineString]KubernetesThresholdValue
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*v = EvictionThresholds(entries)
	return nil
}

// KubernetesCloudProvider selects the cloud provider integration of the kubelet.
type KubernetesCloudProvider string

const (
	CloudProviderAws      KubernetesCloudProvider = "aws"
	CloudProviderExternal KubernetesCloudProvider = "external"
)

func NewKubernetesCloudProvider(input string) (KubernetesCloudProvider, error) {
	switch KubernetesCloudProvider(input) {
	case CloudProviderAws, CloudProviderExternal, "":
		return KubernetesCloudProvider(input), nil
	}
	return "", typederrors.NewInvalidInputError(
		nil, "cloud provider must be 'aws', 'external' or empty, got %q", input,
	)
}

func (v *KubernetesCloudProvider) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesCloudProvider(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// KubernetesAuthenticationMode selects how the kubelet authenticates to the API server.
type KubernetesAuthenticationMode string

const (
	AuthenticationModeAws KubernetesAuthenticationMode = "aws"
	AuthenticationModeTLS KubernetesAuthenticationMode = "tls"
)

func NewKubernetesAuthenticationMode(input string) (KubernetesAuthenticationMode, error) {
	switch KubernetesAuthenticationMode(input) {
	case AuthenticationModeAws, AuthenticationModeTLS:
		return KubernetesAuthenticationMode(input), nil
	}
	return "", typederrors.NewInvalidInputError(
		nil, "authentication mode must be 'aws' or 'tls', got %q", input,
	)
}

func (v *KubernetesAuthenticationMode) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewKubernetesAuthenticationMode(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// CpuManagerPolicy selects the kubelet CPU manager policy.
type CpuManagerPolicy string

func NewCpuManagerPolicy(input string) (CpuManagerPolicy, error) {
	switch input {
	case "static", "none":
		return CpuManagerPolicy(input), nil
	}
	return "", typederrors.NewInvalidInputError(
		nil, "CPU manager policy must be 'static' or 'none', got %q", input,
	)
}

func (v *CpuManagerPolicy) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewCpuManagerPolicy(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}

// TopologyManagerPolicy selects the kubelet topology manager policy.
type TopologyManagerPolicy string

func NewTopologyManagerPolicy(input string) (TopologyManagerPolicy, error) {
	switch input {
	case "none", "restricted", "best-effort", "single-numa-node":
		return TopologyManagerPolicy(input), nil
	}
	return "", typederrors.NewInvalidInputError(
		nil, "topology manager policy must be one of 'none', 'restricted', "+
			"'best-effort' or 'single-numa-node', got %q", input,
	)
}

func (v *TopologyManagerPolicy) UnmarshalJSON(data []byte) error {
	s, err := unmarshalString(data)
	if err != nil {
		return err
	}
	value, err := NewTopologyManagerPolicy(s)
	if err != nil {
		return err
	}
	*v = value
	return nil
}
