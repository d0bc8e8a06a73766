package patient

import (
	"regexp"
	"time"

	"github.com/drfirst/go-rxbridge/internal/healthwarehouse"
)

var (
	statePattern      = regexp.MustCompile(`^[A-Z]{2}$`)
	phonePattern      = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`)
	postalCodePattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// Payload is the inbound patient. Every field except IntakeKey may be
// omitted; an omitted field keeps the value already held remotely.
type Payload struct {
	IntakeKey         string  `json:"intakeq_id"`
	FirstName         *string `json:"first_name,omitempty"`
	LastName          *string `json:"last_name,omitempty"`
	Gender            *string `json:"gender,omitempty"`
	Pregnant          *bool   `json:"pregnant,omitempty"`
	DOB               *string `json:"dob,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	Address1          *string `json:"address1,omitempty"`
	City              *string `json:"city,omitempty"`
	State             *string `json:"state,omitempty"`
	PostalCode        *string `json:"postal_code,omitempty"`
	DrugAllergy       *string `json:"drug_allergy,omitempty"`
	OtherMedications  *string `json:"other_medications,omitempty"`
	MedicalConditions *string `json:"medical_conditions,omitempty"`
}

// Validate checks the intake key and the format of every present field.
// field names are reported relative to prefix.
func (p Payload) Validate(prefix string) ValidationErrors {
	var errs ValidationErrors
	f := func(name string) string { return prefix + name }

	if p.IntakeKey == "" {
		errs.Add(f("intakeq_id"), "IntakeQ ID is required")
	}

	nonEmpty := []struct {
		name  string
		value *string
		msg   string
	}{
		{"first_name", p.FirstName, "First name is required"},
		{"last_name", p.LastName, "Last name is required"},
		{"address1", p.Address1, "Address line 1 is required"},
		{"city", p.City, "City is required"},
		{"drug_allergy", p.DrugAllergy, "Drug allergy information is required"},
		{"other_medications", p.OtherMedications, "Other medications information is required"},
		{"medical_conditions", p.MedicalConditions, "Medical conditions information is required"},
	}
	for _, field := range nonEmpty {
		if field.value != nil && *field.value == "" {
			errs.Add(f(field.name), field.msg)
		}
	}

	if p.Gender != nil && *p.Gender != healthwarehouse.GenderMale && *p.Gender != healthwarehouse.GenderFemale {
		errs.Add(f("gender"), "Gender must be male or female")
	}
	if p.DOB != nil {
		if _, err := time.Parse(time.DateOnly, *p.DOB); err != nil {
			errs.Add(f("dob"), "Invalid date format (expected: YYYY-MM-DD)")
		}
	}
	if p.State != nil && !statePattern.MatchString(*p.State) {
		errs.Add(f("state"), "State must be a 2-character uppercase code")
	}
	if p.Phone != nil && !phonePattern.MatchString(*p.Phone) {
		errs.Add(f("phone"), "Phone must be in XXX-XXX-XXXX format")
	}
	if p.PostalCode != nil && !postalCodePattern.MatchString(*p.PostalCode) {
		errs.Add(f("postal_code"), "Postal code must be in 12345 or 12345-6789 format")
	}

	return errs
}

// validateForCreate checks the fields a new HealthWarehouse patient requires.
func (p Payload) validateForCreate() error {
	errs := p.Validate("patient.")
	required := []struct {
		name    string
		present bool
	}{
		{"first_name", p.FirstName != nil},
		{"last_name", p.LastName != nil},
		{"gender", p.Gender != nil},
		{"dob", p.DOB != nil},
		{"phone", p.Phone != nil},
		{"address1", p.Address1 != nil},
		{"city", p.City != nil},
		{"state", p.State != nil},
		{"postal_code", p.PostalCode != nil},
		{"drug_allergy", p.DrugAllergy != nil},
		{"other_medications", p.OtherMedications != nil},
		{"medical_conditions", p.MedicalConditions != nil},
	}
	for _, field := range required {
		if !field.present {
			errs.Add("patient."+field.name, "required for a new patient")
		}
	}
	return errs.Err()
}

// shippingAddress builds the address payload from the inbound fields; absent
// fields are left empty and therefore omitted on update.
func (p Payload) shippingAddress() healthwarehouse.AddressPayload {
	return healthwarehouse.AddressPayload{
		FirstName:  deref(p.FirstName),
		LastName:   deref(p.LastName),
		Address1:   deref(p.Address1),
		City:       deref(p.City),
		State:      deref(p.State),
		PostalCode: deref(p.PostalCode),
		Country:    healthwarehouse.DefaultCountry,
		Phone:      deref(p.Phone),
	}
}

func (p Payload) metadata() *healthwarehouse.PatientMetadata {
	return &healthwarehouse.PatientMetadata{PartnerPatientID: p.IntakeKey}
}

// newPatient builds the creation payload. Pregnant defaults to false.
func (p Payload) newPatient(customerID int64) healthwarehouse.PatientPayload {
	pregnant := false
	if p.Pregnant != nil {
		pregnant = *p.Pregnant
	}
	return healthwarehouse.PatientPayload{
		CustomerID:        customerID,
		FirstName:         deref(p.FirstName),
		LastName:          deref(p.LastName),
		Gender:            deref(p.Gender),
		Pregnant:          &pregnant,
		DOB:               deref(p.DOB),
		DrugAllergy:       deref(p.DrugAllergy),
		OtherMedications:  deref(p.OtherMedications),
		MedicalConditions: deref(p.MedicalConditions),
		Metadata:          p.metadata(),
	}
}

// Merge overlays the inbound fields on the remote patient: a present field
// wins, an absent field keeps the remote value.
func Merge(remote *healthwarehouse.Patient, in Payload) healthwarehouse.PatientPayload {
	pregnant := remote.Pregnant
	if in.Pregnant != nil {
		pregnant = *in.Pregnant
	}
	return healthwarehouse.PatientPayload{
		CustomerID:        remote.CustomerID,
		FirstName:         pick(in.FirstName, remote.FirstName),
		LastName:          pick(in.LastName, remote.LastName),
		Gender:            pick(in.Gender, remote.Gender),
		Pregnant:          &pregnant,
		DOB:               pick(in.DOB, remote.DOB),
		DrugAllergy:       pick(in.DrugAllergy, remote.DrugAllergy),
		OtherMedications:  pick(in.OtherMedications, remote.OtherMedications),
		MedicalConditions: pick(in.MedicalConditions, remote.MedicalConditions),
		Metadata:          in.metadata(),
	}
}

func pick(in *string, remote string) string {
	if in != nil {
		return *in
	}
	return remote
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
