package plugin

import (
	xerrors "IntelHive/internal/errors"
)

// ParamType is the declared type of a plugin parameter.
type ParamType string

const (
	TypeString ParamType = "str"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypeList   ParamType = "list"
	TypeDict   ParamType = "dict"
)

// IsValidParamType checks whether the given type is a supported enum value.
func IsValidParamType(t ParamType) bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeList, TypeDict:
		return true
	default:
		return false
	}
}

// Parameter is a named, typed input a plugin declares it needs. A parameter
// belongs to exactly one plugin definition; identity is (Plugin, Name).
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	IsSecret    bool      `json:"is_secret"`
	Plugin      string    `json:"plugin"`
}

// ValueScope identifies who contributed a parameter value. Exactly one of
// three shapes is valid: a user row (OwnerID set, ForOrganization false),
// an organization row (OwnerID is the organization owner, ForOrganization
// true), or the system default (OwnerID zero, ForOrganization false).
type ValueScope struct {
	OwnerID         int64 `json:"owner_id"`
	ForOrganization bool  `json:"for_organization"`
}

// DefaultScope is the system-wide fallback scope.
var DefaultScope = ValueScope{}

// UserScope returns the scope of a value owned privately by a user.
func UserScope(userID int64) ValueScope {
	return ValueScope{OwnerID: userID}
}

// OrganizationScope returns the scope of a value shared by the organization
// whose owner is ownerID.
func OrganizationScope(ownerID int64) ValueScope {
	return ValueScope{OwnerID: ownerID, ForOrganization: true}
}

// IsDefault reports whether the scope is the system default.
func (s ValueScope) IsDefault() bool {
	return s.OwnerID == 0 && !s.ForOrganization
}

// ParameterValue is one candidate value for a parameter, contributed by a
// single scope. At most one value exists per (Plugin, Parameter, Scope).
type ParameterValue struct {
	Plugin    string     `json:"plugin"`
	Parameter string     `json:"parameter"`
	Scope     ValueScope `json:"scope"`
	Value     any        `json:"value"`
	UpdatedAt int64      `json:"updated_at"`
}

// Error codes raised by the plugin subsystem.
const (
	CodeParameterNotConfigured xerrors.Code = "PARAMETER_NOT_CONFIGURED"
	CodePluginNotRunnable      xerrors.Code = "PLUGIN_NOT_RUNNABLE"
	CodeEntryPointNotFound     xerrors.Code = "ENTRYPOINT_NOT_FOUND"
	CodePluginValidation       xerrors.Code = "PLUGIN_VALIDATION_FAILED"
)

var (
	// ErrParameterNotConfigured signals that no candidate value was found
	// through any precedence tier.
	ErrParameterNotConfigured = xerrors.New(CodeParameterNotConfigured, "no value configured for parameter")
	// ErrPluginNotRunnable signals that a plugin is disabled, disabled for
	// the caller's organization, or missing a required parameter value.
	ErrPluginNotRunnable = xerrors.New(CodePluginNotRunnable, "plugin is not runnable")
	// ErrEntryPointNotFound signals that an entry-point reference does not
	// resolve to a registered handler.
	ErrEntryPointNotFound = xerrors.New(CodeEntryPointNotFound, "entry point not found")
)

func init() {
	xerrors.Register(CodeParameterNotConfigured, xerrors.Attributes{
		Message:   "no value configured for parameter",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePluginNotRunnable, xerrors.Attributes{
		Message:   "plugin is not runnable",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeEntryPointNotFound, xerrors.Attributes{
		Message:   "entry point not found",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePluginValidation, xerrors.Attributes{
		Message:   "plugin configuration rejected",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
