// Package config holds the enumerated, validated configuration
// surface (§6) for the group-replication core. Grounded on the pack's
// SQL-engine repo (`SimonWaldherr-tinySQL`'s `cmd/server/main.go`): a
// plain Go struct with a validating constructor and a `Validate() error`
// method, no external config-file dependency for the base shape. An
// optional YAML loader (LoadFile) is wired for operators who want a
// file instead of constructing the struct in code, following
// `ethereum-go-ethereum`'s `gopkg.in/yaml.v3` usage for its own
// node/TOML-adjacent config surfaces.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SSLMode is the transport TLS policy.
type SSLMode string

const (
	SSLDisabled       SSLMode = "DISABLED"
	SSLRequired       SSLMode = "REQUIRED"
	SSLVerifyCA       SSLMode = "VERIFY_CA"
	SSLVerifyIdentity SSLMode = "VERIFY_IDENTITY"
)

// ExitStateAction is the policy applied on an unrecoverable error.
type ExitStateAction string

const (
	ExitReadOnly    ExitStateAction = "READ_ONLY"
	ExitAbortServer ExitStateAction = "ABORT_SERVER"
	ExitOfflineMode ExitStateAction = "OFFLINE_MODE"
)

// FlowControlMode selects how the broadcast/GC thread throttles
// outgoing transactions relative to applier lag.
type FlowControlMode string

const (
	FlowControlDisabled FlowControlMode = "DISABLED"
	FlowControlQuota    FlowControlMode = "QUOTA"
)

// Config is the full enumerated configuration table from §6.
type Config struct {
	GroupName   uuid.UUID `yaml:"group_name"`
	StartOnBoot bool      `yaml:"start_on_boot"`

	LocalAddress string   `yaml:"local_address"`
	GroupSeeds   []string `yaml:"group_seeds"`
	BootstrapGroup bool   `yaml:"bootstrap_group"`

	SinglePrimaryMode             bool `yaml:"single_primary_mode"`
	EnforceUpdateEverywhereChecks bool `yaml:"enforce_update_everywhere_checks"`

	GTIDAssignmentBlockSize int64 `yaml:"gtid_assignment_block_size"`

	TransactionSizeLimit         int64 `yaml:"transaction_size_limit"`
	CompressionThreshold         int64 `yaml:"compression_threshold"`
	CommunicationMaxMessageSize  int64 `yaml:"communication_max_message_size"`

	SSLMode     SSLMode  `yaml:"ssl_mode"`
	IPAllowlist []string `yaml:"ip_allowlist"`

	MemberExpelTimeout        time.Duration `yaml:"member_expel_timeout"`
	MemberWeight               int          `yaml:"member_weight"`
	AutorejoinTries            int          `yaml:"autorejoin_tries"`
	UnreachableMajorityTimeout time.Duration `yaml:"unreachable_majority_timeout"`

	ExitStateAction ExitStateAction `yaml:"exit_state_action"`

	FlowControlMode       FlowControlMode `yaml:"flow_control_mode"`
	FlowControlThresholds int64           `yaml:"flow_control_thresholds"`
	FlowControlQuota      int64           `yaml:"flow_control_quota"`
	FlowControlPeriod     time.Duration   `yaml:"flow_control_period"`

	ViewChangeUUID   uuid.UUID `yaml:"view_change_uuid"`
	PaxosSingleLeader bool     `yaml:"paxos_single_leader"`
}

// New returns a config with the spec's documented defaults, ready for
// caller overrides before Validate.
func New(groupName uuid.UUID) *Config {
	return &Config{
		GroupName:                   groupName,
		StartOnBoot:                 false,
		SinglePrimaryMode:           true,
		GTIDAssignmentBlockSize:     1,
		TransactionSizeLimit:        150 * 1024 * 1024,
		CommunicationMaxMessageSize: 10 * 1024 * 1024,
		SSLMode:                     SSLDisabled,
		MemberExpelTimeout:          5 * time.Second,
		MemberWeight:                50,
		AutorejoinTries:             3,
		UnreachableMajorityTimeout:  0,
		ExitStateAction:             ExitReadOnly,
		FlowControlMode:             FlowControlQuota,
		FlowControlThresholds:       25000,
		FlowControlQuota:            0,
		FlowControlPeriod:           1 * time.Second,
		ViewChangeUUID:              groupName,
		PaxosSingleLeader:           false,
	}
}

// LoadFile reads and parses a YAML configuration file, then validates
// it before returning.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects bad option values and inconsistent combinations,
// corresponding to the CONFIG error kind (§7): the plugin refuses to
// start rather than run with a nonsensical configuration.
func (c *Config) Validate() error {
	if c.GroupName == uuid.Nil {
		return fmt.Errorf("config: group_name must be set")
	}
	if c.GTIDAssignmentBlockSize < 1 {
		return fmt.Errorf("config: gtid_assignment_block_size must be >= 1, got %d", c.GTIDAssignmentBlockSize)
	}
	if c.TransactionSizeLimit <= 0 {
		return fmt.Errorf("config: transaction_size_limit must be > 0")
	}
	if c.CommunicationMaxMessageSize <= 0 {
		return fmt.Errorf("config: communication_max_message_size must be > 0")
	}
	switch c.SSLMode {
	case SSLDisabled, SSLRequired, SSLVerifyCA, SSLVerifyIdentity:
	default:
		return fmt.Errorf("config: invalid ssl_mode %q", c.SSLMode)
	}
	switch c.ExitStateAction {
	case ExitReadOnly, ExitAbortServer, ExitOfflineMode:
	default:
		return fmt.Errorf("config: invalid exit_state_action %q", c.ExitStateAction)
	}
	switch c.FlowControlMode {
	case FlowControlDisabled, FlowControlQuota:
	default:
		return fmt.Errorf("config: invalid flow_control_mode %q", c.FlowControlMode)
	}
	if c.FlowControlMode == FlowControlQuota && c.FlowControlQuota < 0 {
		return fmt.Errorf("config: flow_control_quota must be >= 0")
	}
	if c.MemberWeight < 0 || c.MemberWeight > 100 {
		return fmt.Errorf("config: member_weight must be in [0,100], got %d", c.MemberWeight)
	}
	if c.BootstrapGroup && len(c.GroupSeeds) > 0 {
		return fmt.Errorf("config: bootstrap_group and group_seeds are mutually exclusive")
	}
	if c.SinglePrimaryMode && c.EnforceUpdateEverywhereChecks {
		return fmt.Errorf("config: enforce_update_everywhere_checks only applies in multi-primary mode")
	}
	return nil
}
