package plugin

// Definition is one configured plugin. Queue and SoftTimeLimit are computed
// eagerly when the manifest is loaded; a manifest reload replaces the whole
// definition.
type Definition struct {
	Name            string
	Kind            Kind
	Description     string
	EntryPoint      string
	Disabled        bool
	DisabledForOrgs map[int64]struct{}
	Queue           string
	SoftTimeLimit   int
	Parameters      []Parameter
}

// RequiredParameters returns the declared parameters with Required set.
func (d *Definition) RequiredParameters() []Parameter {
	return d.filter(func(p Parameter) bool { return p.Required })
}

// SecretParameters returns the declared parameters with IsSecret set.
func (d *Definition) SecretParameters() []Parameter {
	return d.filter(func(p Parameter) bool { return p.IsSecret })
}

// VisibleParameters returns the declared non-secret parameters.
func (d *Definition) VisibleParameters() []Parameter {
	return d.filter(func(p Parameter) bool { return !p.IsSecret })
}

func (d *Definition) filter(keep func(Parameter) bool) []Parameter {
	var out []Parameter
	for _, p := range d.Parameters {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// DisabledForOrganization reports whether the plugin is individually
// disabled for the given organization.
func (d *Definition) DisabledForOrganization(orgID int64) bool {
	_, ok := d.DisabledForOrgs[orgID]
	return ok
}

func (d *Definition) clone() *Definition {
	clone := *d
	if d.DisabledForOrgs != nil {
		clone.DisabledForOrgs = make(map[int64]struct{}, len(d.DisabledForOrgs))
		for org := range d.DisabledForOrgs {
			clone.DisabledForOrgs[org] = struct{}{}
		}
	}
	clone.Parameters = append([]Parameter(nil), d.Parameters...)
	return &clone
}
