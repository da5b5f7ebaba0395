package search

// ParamType is the declared FHIR search parameter type.
type ParamType string

const (
	TypeNumber    ParamType = "number"
	TypeDate      ParamType = "date"
	TypeString    ParamType = "string"
	TypeToken     ParamType = "token"
	TypeReference ParamType = "reference"
	TypeComposite ParamType = "composite"
	TypeQuantity  ParamType = "quantity"
	TypeURI       ParamType = "uri"
)

// Component is one part of a composite search parameter. Its path is
// relative to the composite root path.
type Component struct {
	Name string
	Type ParamType
	Path string
}

// Definition is one search parameter of a resource type: the extraction
// rule shared by the indexing engine and the query builder.
type Definition struct {
	Resource   string
	Name       string
	Type       ParamType
	Paths      []string    // element path(s) producing the values
	Targets    []string    // reference params: allowed target resource types
	Components []Component // composite params only
}

// Catalog is the read-only per-resource-type search parameter catalog,
// built once at startup and shared without synchronization.
type Catalog struct {
	byResource map[string]map[string]*Definition
}

// NewCatalog builds a catalog from definitions.
func NewCatalog(defs []Definition) *Catalog {
	c := &Catalog{byResource: make(map[string]map[string]*Definition)}
	for i := range defs {
		d := &defs[i]
		if c.byResource[d.Resource] == nil {
			c.byResource[d.Resource] = make(map[string]*Definition)
		}
		c.byResource[d.Resource][d.Name] = d
	}
	return c
}

// Lookup resolves a parameter name for a resource type. Parameters defined
// for "Resource" apply to every type.
func (c *Catalog) Lookup(resourceType, name string) (*Definition, bool) {
	if byName, ok := c.byResource[resourceType]; ok {
		if d, ok := byName[name]; ok {
			return d, true
		}
	}
	if byName, ok := c.byResource["Resource"]; ok {
		if d, ok := byName[name]; ok {
			return d, true
		}
	}
	return nil, false
}

// ForResource returns all definitions applying to a resource type,
// universal parameters included.
func (c *Catalog) ForResource(resourceType string) []*Definition {
	var out []*Definition
	for _, d := range c.byResource[resourceType] {
		out = append(out, d)
	}
	for _, d := range c.byResource["Resource"] {
		out = append(out, d)
	}
	return out
}

// KnownResource reports whether any parameter is defined for the type.
func (c *Catalog) KnownResource(resourceType string) bool {
	_, ok := c.byResource[resourceType]
	return ok
}

// ResourceTypes lists the types with their own definitions.
func (c *Catalog) ResourceTypes() []string {
	out := make([]string, 0, len(c.byResource))
	for rt := range c.byResource {
		if rt != "Resource" {
			out = append(out, rt)
		}
	}
	return out
}

// DefaultDefinitions returns the built-in search parameter catalog for the
// resource types the server indexes out of the box, mirroring the FHIR R4
// standard parameters reduced to the built-in model tables.
func DefaultDefinitions() []Definition {
	return []Definition{
		// Universal parameters.
		{Resource: "Resource", Name: "_id", Type: TypeToken, Paths: []string{"id"}},

		// Patient
		{Resource: "Patient", Name: "identifier", Type: TypeToken, Paths: []string{"Patient.identifier"}},
		{Resource: "Patient", Name: "active", Type: TypeToken, Paths: []string{"Patient.active"}},
		{Resource: "Patient", Name: "name", Type: TypeString, Paths: []string{"Patient.name"}},
		{Resource: "Patient", Name: "family", Type: TypeString, Paths: []string{"Patient.name.family"}},
		{Resource: "Patient", Name: "given", Type: TypeString, Paths: []string{"Patient.name.given"}},
		{Resource: "Patient", Name: "phonetic", Type: TypeString, Paths: []string{"Patient.name"}},
		{Resource: "Patient", Name: "telecom", Type: TypeToken, Paths: []string{"Patient.telecom"}},
		{Resource: "Patient", Name: "phone", Type: TypeToken, Paths: []string{"Patient.telecom(system=phone)"}},
		{Resource: "Patient", Name: "email", Type: TypeToken, Paths: []string{"Patient.telecom(system=email)"}},
		{Resource: "Patient", Name: "gender", Type: TypeToken, Paths: []string{"Patient.gender"}},
		{Resource: "Patient", Name: "birthdate", Type: TypeDate, Paths: []string{"Patient.birthDate"}},
		{Resource: "Patient", Name: "deceased", Type: TypeToken, Paths: []string{"Patient.deceasedBoolean"}},
		{Resource: "Patient", Name: "death-date", Type: TypeDate, Paths: []string{"Patient.deceasedDateTime"}},
		{Resource: "Patient", Name: "address", Type: TypeString, Paths: []string{"Patient.address"}},
		{Resource: "Patient", Name: "address-city", Type: TypeString, Paths: []string{"Patient.address.city"}},
		{Resource: "Patient", Name: "address-postalcode", Type: TypeString, Paths: []string{"Patient.address.postalCode"}},
		{Resource: "Patient", Name: "general-practitioner", Type: TypeReference, Paths: []string{"Patient.generalPractitioner"}, Targets: []string{"Practitioner", "Organization"}},
		{Resource: "Patient", Name: "organization", Type: TypeReference, Paths: []string{"Patient.managingOrganization"}, Targets: []string{"Organization"}},

		// Practitioner
		{Resource: "Practitioner", Name: "identifier", Type: TypeToken, Paths: []string{"Practitioner.identifier"}},
		{Resource: "Practitioner", Name: "name", Type: TypeString, Paths: []string{"Practitioner.name"}},
		{Resource: "Practitioner", Name: "family", Type: TypeString, Paths: []string{"Practitioner.name.family"}},
		{Resource: "Practitioner", Name: "given", Type: TypeString, Paths: []string{"Practitioner.name.given"}},
		{Resource: "Practitioner", Name: "gender", Type: TypeToken, Paths: []string{"Practitioner.gender"}},

		// Organization
		{Resource: "Organization", Name: "identifier", Type: TypeToken, Paths: []string{"Organization.identifier"}},
		{Resource: "Organization", Name: "name", Type: TypeString, Paths: []string{"Organization.name"}},
		{Resource: "Organization", Name: "type", Type: TypeToken, Paths: []string{"Organization.type"}},
		{Resource: "Organization", Name: "partof", Type: TypeReference, Paths: []string{"Organization.partOf"}, Targets: []string{"Organization"}},

		// Observation
		{Resource: "Observation", Name: "identifier", Type: TypeToken, Paths: []string{"Observation.identifier"}},
		{Resource: "Observation", Name: "status", Type: TypeToken, Paths: []string{"Observation.status"}},
		{Resource: "Observation", Name: "category", Type: TypeToken, Paths: []string{"Observation.category"}},
		{Resource: "Observation", Name: "code", Type: TypeToken, Paths: []string{"Observation.code"}},
		{Resource: "Observation", Name: "subject", Type: TypeReference, Paths: []string{"Observation.subject"}, Targets: []string{"Patient"}},
		{Resource: "Observation", Name: "patient", Type: TypeReference, Paths: []string{"Observation.subject"}, Targets: []string{"Patient"}},
		{Resource: "Observation", Name: "encounter", Type: TypeReference, Paths: []string{"Observation.encounter"}, Targets: []string{"Encounter"}},
		{Resource: "Observation", Name: "performer", Type: TypeReference, Paths: []string{"Observation.performer"}, Targets: []string{"Practitioner", "Organization"}},
		{Resource: "Observation", Name: "date", Type: TypeDate, Paths: []string{"Observation.effective[x]"}},
		{Resource: "Observation", Name: "issued", Type: TypeDate, Paths: []string{"Observation.issued"}},
		{Resource: "Observation", Name: "value-quantity", Type: TypeQuantity, Paths: []string{"Observation.valueQuantity"}},
		{Resource: "Observation", Name: "value-concept", Type: TypeToken, Paths: []string{"Observation.valueCodeableConcept"}},
		{Resource: "Observation", Name: "value-string", Type: TypeString, Paths: []string{"Observation.valueString"}},
		{Resource: "Observation", Name: "code-value-quantity", Type: TypeComposite, Paths: []string{""},
			Components: []Component{
				{Name: "code", Type: TypeToken, Path: "code"},
				{Name: "value", Type: TypeQuantity, Path: "valueQuantity"},
			}},

		// Encounter
		{Resource: "Encounter", Name: "identifier", Type: TypeToken, Paths: []string{"Encounter.identifier"}},
		{Resource: "Encounter", Name: "status", Type: TypeToken, Paths: []string{"Encounter.status"}},
		{Resource: "Encounter", Name: "class", Type: TypeToken, Paths: []string{"Encounter.class"}},
		{Resource: "Encounter", Name: "type", Type: TypeToken, Paths: []string{"Encounter.type"}},
		{Resource: "Encounter", Name: "subject", Type: TypeReference, Paths: []string{"Encounter.subject"}, Targets: []string{"Patient"}},
		{Resource: "Encounter", Name: "patient", Type: TypeReference, Paths: []string{"Encounter.subject"}, Targets: []string{"Patient"}},
		{Resource: "Encounter", Name: "date", Type: TypeDate, Paths: []string{"Encounter.period"}},
		{Resource: "Encounter", Name: "length", Type: TypeQuantity, Paths: []string{"Encounter.length"}},
		{Resource: "Encounter", Name: "service-provider", Type: TypeReference, Paths: []string{"Encounter.serviceProvider"}, Targets: []string{"Organization"}},

		// Condition
		{Resource: "Condition", Name: "identifier", Type: TypeToken, Paths: []string{"Condition.identifier"}},
		{Resource: "Condition", Name: "clinical-status", Type: TypeToken, Paths: []string{"Condition.clinicalStatus"}},
		{Resource: "Condition", Name: "verification-status", Type: TypeToken, Paths: []string{"Condition.verificationStatus"}},
		{Resource: "Condition", Name: "category", Type: TypeToken, Paths: []string{"Condition.category"}},
		{Resource: "Condition", Name: "code", Type: TypeToken, Paths: []string{"Condition.code"}},
		{Resource: "Condition", Name: "subject", Type: TypeReference, Paths: []string{"Condition.subject"}, Targets: []string{"Patient"}},
		{Resource: "Condition", Name: "patient", Type: TypeReference, Paths: []string{"Condition.subject"}, Targets: []string{"Patient"}},
		{Resource: "Condition", Name: "encounter", Type: TypeReference, Paths: []string{"Condition.encounter"}, Targets: []string{"Encounter"}},
		{Resource: "Condition", Name: "onset-date", Type: TypeDate, Paths: []string{"Condition.onsetDateTime", "Condition.onsetPeriod"}},
		{Resource: "Condition", Name: "recorded-date", Type: TypeDate, Paths: []string{"Condition.recordedDate"}},
	}
}

// DefaultCatalog builds the catalog over DefaultDefinitions.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultDefinitions())
}
