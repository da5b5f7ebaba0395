package model

// Built-in type definitions covering the complex datatypes and the resource
// types the server indexes out of the box. The tables mirror the FHIR R4
// structure definitions, reduced to the elements search parameters reach.
// Additional resource types can be appended before the index is built.

// DataTypeDefinitions returns the complex datatype tables shared by all
// resource types.
func DataTypeDefinitions() []TypeDefinition {
	return []TypeDefinition{
		{Name: "HumanName", Elements: []PropertyMapping{
			{Name: "use", TypeName: "code"},
			{Name: "text", TypeName: "string"},
			{Name: "family", TypeName: "string"},
			{Name: "given", TypeName: "string", IsCollection: true},
			{Name: "prefix", TypeName: "string", IsCollection: true},
			{Name: "suffix", TypeName: "string", IsCollection: true},
		}},
		{Name: "Address", Elements: []PropertyMapping{
			{Name: "use", TypeName: "code"},
			{Name: "text", TypeName: "string"},
			{Name: "line", TypeName: "string", IsCollection: true},
			{Name: "city", TypeName: "string"},
			{Name: "district", TypeName: "string"},
			{Name: "state", TypeName: "string"},
			{Name: "postalCode", TypeName: "string"},
			{Name: "country", TypeName: "string"},
		}},
		{Name: "Period", Elements: []PropertyMapping{
			{Name: "start", TypeName: "dateTime"},
			{Name: "end", TypeName: "dateTime"},
		}},
		{Name: "Coding", Elements: []PropertyMapping{
			{Name: "system", TypeName: "uri"},
			{Name: "code", TypeName: "code"},
			{Name: "display", TypeName: "string"},
		}},
		{Name: "CodeableConcept", Elements: []PropertyMapping{
			{Name: "coding", TypeName: "Coding", IsCollection: true},
			{Name: "text", TypeName: "string"},
		}},
		{Name: "Identifier", Elements: []PropertyMapping{
			{Name: "use", TypeName: "code"},
			{Name: "type", TypeName: "CodeableConcept"},
			{Name: "system", TypeName: "uri"},
			{Name: "value", TypeName: "string"},
			{Name: "period", TypeName: "Period"},
		}},
		{Name: "ContactPoint", Elements: []PropertyMapping{
			{Name: "system", TypeName: "code"},
			{Name: "value", TypeName: "string"},
			{Name: "use", TypeName: "code"},
		}},
		{Name: "Quantity", Elements: []PropertyMapping{
			{Name: "value", TypeName: "decimal"},
			{Name: "comparator", TypeName: "code"},
			{Name: "unit", TypeName: "string"},
			{Name: "system", TypeName: "uri"},
			{Name: "code", TypeName: "code"},
		}},
		{Name: "Reference", Elements: []PropertyMapping{
			{Name: "reference", TypeName: "string"},
			{Name: "type", TypeName: "uri"},
			{Name: "display", TypeName: "string"},
		}},
		{Name: "Annotation", Elements: []PropertyMapping{
			{Name: "text", TypeName: "string"},
			{Name: "time", TypeName: "dateTime"},
		}},
	}
}

// ResourceTypeDefinitions returns the built-in resource type tables.
func ResourceTypeDefinitions() []TypeDefinition {
	return []TypeDefinition{
		{Name: "Patient", Elements: []PropertyMapping{
			{Name: "identifier", TypeName: "Identifier", IsCollection: true},
			{Name: "active", TypeName: "boolean"},
			{Name: "name", TypeName: "HumanName", IsCollection: true},
			{Name: "telecom", TypeName: "ContactPoint", IsCollection: true},
			{Name: "gender", TypeName: "code"},
			{Name: "birthDate", TypeName: "date"},
			{Name: "deceased", TypeName: "choice", ChoiceTypes: []string{"boolean", "dateTime"}},
			{Name: "address", TypeName: "Address", IsCollection: true},
			{Name: "maritalStatus", TypeName: "CodeableConcept"},
			{Name: "generalPractitioner", TypeName: "Reference", IsCollection: true},
			{Name: "managingOrganization", TypeName: "Reference"},
		}},
		{Name: "Practitioner", Elements: []PropertyMapping{
			{Name: "identifier", TypeName: "Identifier", IsCollection: true},
			{Name: "active", TypeName: "boolean"},
			{Name: "name", TypeName: "HumanName", IsCollection: true},
			{Name: "telecom", TypeName: "ContactPoint", IsCollection: true},
			{Name: "gender", TypeName: "code"},
			{Name: "birthDate", TypeName: "date"},
			{Name: "address", TypeName: "Address", IsCollection: true},
		}},
		{Name: "Organization", Elements: []PropertyMapping{
			{Name: "identifier", TypeName: "Identifier", IsCollection: true},
			{Name: "active", TypeName: "boolean"},
			{Name: "type", TypeName: "CodeableConcept", IsCollection: true},
			{Name: "name", TypeName: "string"},
			{Name: "telecom", TypeName: "ContactPoint", IsCollection: true},
			{Name: "address", TypeName: "Address", IsCollection: true},
			{Name: "partOf", TypeName: "Reference"},
		}},
		{Name: "Observation", Elements: []PropertyMapping{
			{Name: "identifier", TypeName: "Identifier", IsCollection: true},
			{Name: "status", TypeName: "code"},
			{Name: "category", TypeName: "CodeableConcept", IsCollection: true},
			{Name: "code", TypeName: "CodeableConcept"},
			{Name: "subject", TypeName: "Reference"},
			{Name: "encounter", TypeName: "Reference"},
			{Name: "effective", TypeName: "choice", ChoiceTypes: []string{"dateTime", "Period"}},
			{Name: "issued", TypeName: "instant"},
			{Name: "performer", TypeName: "Reference", IsCollection: true},
			{Name: "value", TypeName: "choice", ChoiceTypes: []string{"Quantity", "CodeableConcept", "string", "boolean", "dateTime", "Period"}},
			{Name: "note", TypeName: "Annotation", IsCollection: true},
		}},
		{Name: "Encounter", Elements: []PropertyMapping{
			{Name: "identifier", TypeName: "Identifier", IsCollection: true},
			{Name: "status", TypeName: "code"},
			{Name: "class", TypeName: "Coding"},
			{Name: "type", TypeName: "CodeableConcept", IsCollection: true},
			{Name: "subject", TypeName: "Reference"},
			{Name: "period", TypeName: "Period"},
			{Name: "length", TypeName: "Quantity"},
			{Name: "serviceProvider", TypeName: "Reference"},
		}},
		{Name: "Condition", Elements: []PropertyMapping{
			{Name: "identifier", TypeName: "Identifier", IsCollection: true},
			{Name: "clinicalStatus", TypeName: "CodeableConcept"},
			{Name: "verificationStatus", TypeName: "CodeableConcept"},
			{Name: "category", TypeName: "CodeableConcept", IsCollection: true},
			{Name: "code", TypeName: "CodeableConcept"},
			{Name: "subject", TypeName: "Reference"},
			{Name: "encounter", TypeName: "Reference"},
			{Name: "onset", TypeName: "choice", ChoiceTypes: []string{"dateTime", "Period", "string"}},
			{Name: "recordedDate", TypeName: "dateTime"},
			{Name: "note", TypeName: "Annotation", IsCollection: true},
		}},
	}
}

// DefaultPropertyIndex builds the property index over the built-in
// datatype and resource type tables.
func DefaultPropertyIndex() *PropertyIndex {
	defs := DataTypeDefinitions()
	defs = append(defs, ResourceTypeDefinitions()...)
	return NewPropertyIndex(defs)
}
