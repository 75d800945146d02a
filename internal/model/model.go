/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package model

import "encoding/json"

// Settings is the typed tree of host settings. Every leaf is either a validated scalar type or a
// plain bool/integer; absent values are nil pointers so that a PATCH carrying only some fields
// only touches those fields. Field names are the datastore key segments.
type Settings struct {
	Motd                *SingleLineString                 `json:"motd,omitempty"`
	Ntp                 *NtpSettings                      `json:"ntp,omitempty"`
	Network             *NetworkSettings                  `json:"network,omitempty"`
	Kernel              *KernelSettings                   `json:"kernel,omitempty"`
	Updates             *UpdatesSettings                  `json:"updates,omitempty"`
	HostContainers      map[Identifier]HostContainer      `json:"host-containers,omitempty"`
	BootstrapContainers map[Identifier]BootstrapContainer `json:"bootstrap-containers,omitempty"`
	Kubernetes          *KubernetesSettings               `json:"kubernetes,omitempty"`
	Ecs                 *EcsSettings                      `json:"ecs,omitempty"`
	Aws                 *AwsSettings                      `json:"aws,omitempty"`
	Pki                 map[Identifier]PemBundle          `json:"pki,omitempty"`
}

// NtpSettings configures time synchronization.
type NtpSettings struct {
	TimeServers *URLList `json:"time-servers,omitempty"`
}

// NetworkSettings configures the host network identity and proxies.
type NetworkSettings struct {
	Hostname   *ValidLinuxHostname `json:"hostname,omitempty"`
	HttpsProxy *URL                `json:"https-proxy,omitempty"`
	NoProxy    *StringList         `json:"no-proxy,omitempty"`
}

// KernelSettings configures kernel hardening and modules.
type KernelSettings struct {
	Lockdown *Lockdown                      `json:"lockdown,omitempty"`
	Modules  map[KmodKey]KmodSetting        `json:"modules,omitempty"`
	Sysctl   map[SysctlKey]SingleLineString `json:"sysctl,omitempty"`
}

// KmodSetting controls whether a kernel module may be loaded.
type KmodSetting struct {
	Allowed *bool `json:"allowed,omitempty"`
}

// UpdatesSettings configures where update metadata and images come from.
type UpdatesSettings struct {
	MetadataBaseUrl *URL             `json:"metadata-base-url,omitempty"`
	TargetsBaseUrl  *URL             `json:"targets-base-url,omitempty"`
	Seed            *uint32          `json:"seed,omitempty"`
	VersionLock     *FriendlyVersion `json:"version-lock,omitempty"`
	IgnoreWaves     *bool            `json:"ignore-waves,omitempty"`
}

// HostContainer describes a privileged or unprivileged host container, like the admin and
// control containers.
type HostContainer struct {
	Source       *URL         `json:"source,omitempty"`
	Enabled      *bool        `json:"enabled,omitempty"`
	Superpowered *bool        `json:"superpowered,omitempty"`
	UserData     *ValidBase64 `json:"user-data,omitempty"`
}

// BootstrapContainer describes a container that runs during boot to prepare the host.
type BootstrapContainer struct {
	Source    *URL                    `json:"source,omitempty"`
	Mode      *BootstrapContainerMode `json:"mode,omitempty"`
	UserData  *ValidBase64            `json:"user-data,omitempty"`
	Essential *bool                   `json:"essential,omitempty"`
}

// KubernetesSettings configures the kubelet and its cluster membership.
type KubernetesSettings struct {
	ApiServer                          *URL                                        `json:"api-server,omitempty"`
	ClusterName                        *KubernetesClusterName                      `json:"cluster-name,omitempty"`
	ClusterCertificate                 *ValidBase64                                `json:"cluster-certificate,omitempty"`
	ClusterDnsIp                       *IPAddress                                  `json:"cluster-dns-ip,omitempty"`
	ClusterDomain                      *DNSDomain                                  `json:"cluster-domain,omitempty"`
	AuthenticationMode                 *KubernetesAuthenticationMode               `json:"authentication-mode,omitempty"`
	BootstrapToken                     *ValidBase64                                `json:"bootstrap-token,omitempty"`
	CloudProvider                      *KubernetesCloudProvider                    `json:"cloud-provider,omitempty"`
	MaxPods                            *uint32                                     `json:"max-pods,omitempty"`
	PodInfraContainerImage             *SingleLineString                           `json:"pod-infra-container-image,omitempty"`
	NodeLabels                         map[KubernetesLabelKey]KubernetesLabelValue `json:"node-labels,omitempty"`
	NodeTaints                         map[KubernetesLabelKey]TaintValueList       `json:"node-taints,omitempty"`
	AllowedUnsafeSysctls               *StringList                                 `json:"allowed-unsafe-sysctls,omitempty"`
	ServerTlsBootstrap                 *bool                                       `json:"server-tls-bootstrap,omitempty"`
	StandaloneMode                     *bool                                       `json:"standalone-mode,omitempty"`
	CpuManagerPolicy                   *CpuManagerPolicy                           `json:"cpu-manager-policy,omitempty"`
	TopologyManagerPolicy              *TopologyManagerPolicy                      `json:"topology-manager-policy,omitempty"`
	KubeReserved                       *KubernetesReservedResources                `json:"kube-reserved,omitempty"`
	SystemReserved                     *KubernetesReservedResources                `json:"system-reserved,omitempty"`
	EvictionHard                       *EvictionThresholds                         `json:"eviction-hard,omitempty"`
	KubeApiQps                         *int32                                      `json:"kube-api-qps,omitempty"`
	KubeApiBurst                       *int32                                      `json:"kube-api-burst,omitempty"`
	EventQps                           *int32                                      `json:"event-qps,omitempty"`
	EventBurstSize                     *int32                                      `json:"event-burst-size,omitempty"`
	RegistryQps                        *int32                                      `json:"registry-qps,omitempty"`
	RegistryBurstSize                  *int32                                      `json:"registry-burst-size,omitempty"`
	ContainerLogMaxSize                *KubernetesQuantityValue                    `json:"container-log-max-size,omitempty"`
	ContainerLogMaxFiles               *int32                                      `json:"container-log-max-files,omitempty"`
	ShutdownGracePeriod                *KubernetesDurationValue                    `json:"shutdown-grace-period,omitempty"`
	ShutdownGracePeriodForCriticalPods *KubernetesDurationValue                    `json:"shutdown-grace-period-for-critical-pods,omitempty"`
}

// KubernetesReservedResources describes resources reserved for the system or for Kubernetes
// system daemons.
type KubernetesReservedResources struct {
	Cpu    *KubernetesQuantityValue `json:"cpu,omitempty"`
	Memory *KubernetesQuantityValue `json:"memory,omitempty"`
}

// EcsSettings configures the ECS agent.
type EcsSettings struct {
	Cluster                    *SingleLineString                     `json:"cluster,omitempty"`
	InstanceAttributes         map[ECSAttributeKey]ECSAttributeValue `json:"instance-attributes,omitempty"`
	AllowPrivilegedContainers  *bool                                 `json:"allow-privileged-containers,omitempty"`
	LoggingDrivers             *StringList                           `json:"logging-drivers,omitempty"`
	Loglevel                   *ECSAgentLogLevel                     `json:"loglevel,omitempty"`
	EnableSpotInstanceDraining *bool                                 `json:"enable-spot-instance-draining,omitempty"`
	ImagePullBehavior          *SingleLineString                     `json:"image-pull-behavior,omitempty"`
	ContainerStopTimeout       *ECSDurationValue                     `json:"container-stop-timeout,omitempty"`
	TaskCleanupWait            *ECSDurationValue                     `json:"task-cleanup-wait,omitempty"`
	MetadataServiceRps         *int32                                `json:"metadata-service-rps,omitempty"`
	MetadataServiceBurst       *int32                                `json:"metadata-service-burst,omitempty"`
	ReservedMemory             *uint32                               `json:"reserved-memory,omitempty"`
}

// AwsSettings configures the AWS integration shared by several agents.
type AwsSettings struct {
	Region  *SingleLineString `json:"region,omitempty"`
	Profile *SingleLineString `json:"profile,omitempty"`
}

// PemBundle is a named bundle of trusted certificates.
type PemBundle struct {
	Data         *PemCertificateString `json:"data,omitempty"`
	TrustedStore *bool                 `json:"trusted,omitempty"`
}

// IdentifierList is a list of identifiers stored as a single composite value.
type IdentifierList []Identifier

func (v IdentifierList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Identifier(v))
}

func (v *IdentifierList) UnmarshalJSON(data []byte) error {
	var items []Identifier
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*v = IdentifierList(items)
	return nil
}

// CommandList is an ordered list of restart command lines stored as a single composite value.
// Each command line is shell-word split before execution.
type CommandList []SingleLineString

func (v CommandList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]SingleLineString(v))
}

func (v *CommandList) UnmarshalJSON(data []byte) error {
	var items []SingleLineString
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*v = CommandList(items)
	return nil
}

// Service describes a service the applier knows how to reconfigure: the configuration files it
// consumes and the commands that restart it.
type Service struct {
	ConfigurationFiles IdentifierList `json:"configuration-files"`
	RestartCommands    CommandList    `json:"restart-commands"`
}

// Services maps service names to their records.
type Services map[Identifier]Service

// ConfigurationFile describes a rendered configuration file: where it is written and which
// template produces it.
type ConfigurationFile struct {
	Path         SingleLineString `json:"path"`
	TemplatePath SingleLineString `json:"template-path"`
}

// ConfigurationFiles maps configuration file names to their records.
type ConfigurationFiles map[Identifier]ConfigurationFile

// Model is the whole of the API model: settings plus the service and configuration file tables.
// This is what GET / returns and what templates render against, together with the release
// identity under "os".
type Model struct {
	Settings           *Settings          `json:"settings,omitempty"`
	Services           Services           `json:"services,omitempty"`
	ConfigurationFiles ConfigurationFiles `json:"configuration-files,omitempty"`
}

// Metadata is one metadata assignment from the defaults document: the value of metadata key Md
// attached to data key Key.
type Metadata struct {
	Key string `json:"key" yaml:"key"`
	Md  string `json:"md" yaml:"md"`
	Val any    `json:"val" yaml:"val"`
}
