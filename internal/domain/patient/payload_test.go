package patient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Payload)
		field  string
	}{
		{"bad state", func(p *Payload) { p.State = str("ny") }, "patient.state"},
		{"bad phone", func(p *Payload) { p.Phone = str("5555555555") }, "patient.phone"},
		{"bad postal code", func(p *Payload) { p.PostalCode = str("1001") }, "patient.postal_code"},
		{"bad dob", func(p *Payload) { p.DOB = str("01/15/1980") }, "patient.dob"},
		{"bad gender", func(p *Payload) { p.Gender = str("unknown") }, "patient.gender"},
		{"empty allergy", func(p *Payload) { p.DrugAllergy = str("") }, "patient.drug_allergy"},
		{"missing key", func(p *Payload) { p.IntakeKey = "" }, "patient.intakeq_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fullPayload("iq-1")
			tt.mutate(&p)
			errs := p.Validate("patient.")
			assert.Contains(t, errs.Details(), tt.field)
		})
	}
}

func TestPayloadValidateAcceptsZipPlusFour(t *testing.T) {
	p := fullPayload("iq-1")
	p.PostalCode = str("10001-1234")
	assert.Empty(t, p.Validate("patient."))
}

func TestPayloadValidateAllowsOmittedFields(t *testing.T) {
	assert.Empty(t, Payload{IntakeKey: "iq-1"}.Validate("patient."))
}
