package domain

// Capabilities advertises which interactive surfaces the host supports. A
// tool requesting an absent capability fails fast with ErrCapabilityMissing
// rather than hanging.
type Capabilities struct {
	Sampling    bool `json:"sampling"`
	Elicitation bool `json:"elicitation"`
}

// CapabilityRequirements is a tool's declaration of the capabilities it needs
// before execution may begin.
type CapabilityRequirements struct {
	Sampling    bool `json:"sampling,omitempty"`
	Elicitation bool `json:"elicitation,omitempty"`
}

// Satisfies reports whether the advertised capabilities cover the requirement.
func (c Capabilities) Satisfies(req CapabilityRequirements) bool {
	if req.Sampling && !c.Sampling {
		return false
	}
	if req.Elicitation && !c.Elicitation {
		return false
	}
	return true
}
