package healthwarehouse

// ShippingMethod is a HealthWarehouse shipping option.
type ShippingMethod string

const (
	ShippingFree         ShippingMethod = "free"
	ShippingStandard     ShippingMethod = "standard"
	ShippingSignature    ShippingMethod = "signature"
	ShippingUSPSPriority ShippingMethod = "usps_priority"
	ShippingUPSGround    ShippingMethod = "ups_ground"
	ShippingUPS2Day      ShippingMethod = "ups_2day"
	ShippingUPSNextDay   ShippingMethod = "ups_nextday"
)

// ShippingMethods lists every accepted shipping method.
var ShippingMethods = []ShippingMethod{
	ShippingFree, ShippingStandard, ShippingSignature, ShippingUSPSPriority,
	ShippingUPSGround, ShippingUPS2Day, ShippingUPSNextDay,
}

// Valid reports whether m is a known shipping method.
func (m ShippingMethod) Valid() bool {
	for _, known := range ShippingMethods {
		if m == known {
			return true
		}
	}
	return false
}

// Gender values accepted for customers and patients.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// OrderStatus is the fulfillment status reported for an order.
type OrderStatus string

const (
	OrderProcessing      OrderStatus = "processing"
	OrderTransferSuccess OrderStatus = "transfer_success"
	OrderTransferFailure OrderStatus = "transfer_failure"
	OrderDispensed       OrderStatus = "dispensed"
	OrderComplete        OrderStatus = "complete"
	OrderCanceled        OrderStatus = "canceled"
)

// AddressType selects the address collection of a customer.
type AddressType string

const (
	BillingAddress  AddressType = "billing_address"
	ShippingAddress AddressType = "shipping_address"
)

// DefaultCountry is the only country HealthWarehouse ships to.
const DefaultCountry = "US"

// Address is a customer-scoped billing or shipping address.
type Address struct {
	AddressID    int64  `json:"address_id"`
	Prefix       string `json:"prefix,omitempty"`
	FirstName    string `json:"first_name"`
	MiddleName   string `json:"middle_name,omitempty"`
	LastName     string `json:"last_name"`
	Suffix       string `json:"suffix,omitempty"`
	Company      string `json:"company,omitempty"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
	PostalCode   string `json:"postal_code"`
	Phone        string `json:"phone"`
	PhoneEvening string `json:"phone_evening,omitempty"`
	Fax          string `json:"fax,omitempty"`
	Label        string `json:"label,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// AddressPayload creates an address or, with empty fields omitted, partially updates one.
type AddressPayload struct {
	Prefix       string `json:"prefix,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	MiddleName   string `json:"middle_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Suffix       string `json:"suffix,omitempty"`
	Company      string `json:"company,omitempty"`
	Address1     string `json:"address1,omitempty"`
	Address2     string `json:"address2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Country      string `json:"country,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Phone        string `json:"phone,omitempty"`
	PhoneEvening string `json:"phone_evening,omitempty"`
	Fax          string `json:"fax,omitempty"`
	Label        string `json:"label,omitempty"`
}

// CustomerMetadata links a customer to the partner system.
type CustomerMetadata struct {
	PartnerCustomerID string `json:"partner_customer_id"`
}

// Customer is the account that owns patients and addresses.
type Customer struct {
	ID                int64             `json:"id"`
	Prefix            string            `json:"prefix,omitempty"`
	FirstName         string            `json:"first_name"`
	MiddleName        string            `json:"middle_name,omitempty"`
	LastName          string            `json:"last_name"`
	Suffix            string            `json:"suffix,omitempty"`
	Email             string            `json:"email,omitempty"`
	Gender            string            `json:"gender,omitempty"`
	DOB               string            `json:"dob,omitempty"`
	BillingAddresses  []Address         `json:"billing_addresses"`
	ShippingAddresses []Address         `json:"shipping_addresses"`
	Metadata          *CustomerMetadata `json:"metadata,omitempty"`
	CreatedAt         string            `json:"created_at,omitempty"`
	UpdatedAt         string            `json:"updated_at,omitempty"`
}

// PrimaryBillingAddress returns the first billing address.
func (c *Customer) PrimaryBillingAddress() (Address, bool) {
	if len(c.BillingAddresses) == 0 {
		return Address{}, false
	}
	return c.BillingAddresses[0], true
}

// CustomerPayload creates a customer.
type CustomerPayload struct {
	Prefix            string            `json:"prefix,omitempty"`
	FirstName         string            `json:"first_name"`
	MiddleName        string            `json:"middle_name,omitempty"`
	LastName          string            `json:"last_name"`
	Suffix            string            `json:"suffix,omitempty"`
	Email             string            `json:"email,omitempty"`
	Gender            string            `json:"gender,omitempty"`
	DOB               string            `json:"dob,omitempty"`
	BillingAddresses  []AddressPayload  `json:"billing_addresses"`
	ShippingAddresses []AddressPayload  `json:"shipping_addresses"`
	Metadata          *CustomerMetadata `json:"metadata,omitempty"`
}

// PatientMetadata carries the partner back-reference for a patient.
type PatientMetadata struct {
	PartnerPatientID string `json:"partner_patient_id"`
}

// Patient is a HealthWarehouse patient record.
type Patient struct {
	ID                int64            `json:"id"`
	CustomerID        int64            `json:"customer_id"`
	Prefix            string           `json:"prefix,omitempty"`
	FirstName         string           `json:"first_name"`
	MiddleName        string           `json:"middle_name,omitempty"`
	LastName          string           `json:"last_name"`
	Suffix            string           `json:"suffix,omitempty"`
	MaidenName        string           `json:"maiden_name,omitempty"`
	Gender            string           `json:"gender"`
	Pregnant          bool             `json:"pregnant"`
	DOB               string           `json:"dob"`
	SafetyCap         *bool            `json:"safety_cap,omitempty"`
	DrugAllergy       string           `json:"drug_allergy"`
	OtherMedications  string           `json:"other_medications"`
	MedicalConditions string           `json:"medical_conditions"`
	Metadata          *PatientMetadata `json:"metadata,omitempty"`
	CreatedAt         string           `json:"created_at,omitempty"`
	UpdatedAt         string           `json:"updated_at,omitempty"`
}

// PatientPayload creates or updates a patient.
type PatientPayload struct {
	CustomerID        int64            `json:"customer_id,omitempty"`
	FirstName         string           `json:"first_name,omitempty"`
	LastName          string           `json:"last_name,omitempty"`
	Gender            string           `json:"gender,omitempty"`
	Pregnant          *bool            `json:"pregnant,omitempty"`
	DOB               string           `json:"dob,omitempty"`
	DrugAllergy       string           `json:"drug_allergy,omitempty"`
	OtherMedications  string           `json:"other_medications,omitempty"`
	MedicalConditions string           `json:"medical_conditions,omitempty"`
	Metadata          *PatientMetadata `json:"metadata,omitempty"`
}

// PatientWithAddress is returned when a patient is created together with its shipping address.
type PatientWithAddress struct {
	Patient         Patient `json:"patient"`
	ShippingAddress Address `json:"shipping_address"`
}

// LineItem is one product on an order.
type LineItem struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

// OrderMetadata carries the partner back-reference for an order.
type OrderMetadata struct {
	PartnerOrderID string `json:"partner_order_id"`
}

// Order is a HealthWarehouse pharmacy order.
type Order struct {
	ID                int64          `json:"id"`
	CustomerID        int64          `json:"customer_id,omitempty"`
	PatientID         int64          `json:"patient_id,omitempty"`
	BillingAddressID  int64          `json:"billing_address_id,omitempty"`
	ShippingAddressID int64          `json:"shipping_address_id,omitempty"`
	OrderComment      string         `json:"order_comment,omitempty"`
	ShippingMethod    ShippingMethod `json:"shipping_method"`
	LineItems         []LineItem     `json:"line_items"`
	Status            OrderStatus    `json:"status,omitempty"`
	Metadata          *OrderMetadata `json:"metadata,omitempty"`
	CreatedAt         string         `json:"created_at,omitempty"`
	UpdatedAt         string         `json:"updated_at,omitempty"`
}

// OrderPayload submits a new order.
type OrderPayload struct {
	CustomerID        int64          `json:"customer_id"`
	PatientID         int64          `json:"patient_id"`
	BillingAddressID  int64          `json:"billing_address_id"`
	ShippingAddressID int64          `json:"shipping_address_id"`
	OrderComment      string         `json:"order_comment,omitempty"`
	ShippingMethod    ShippingMethod `json:"shipping_method"`
	LineItems         []LineItem     `json:"line_items"`
	Metadata          *OrderMetadata `json:"metadata,omitempty"`
}

// OrderDetails is an order together with the addresses it ships and bills to.
type OrderDetails struct {
	Order           Order   `json:"order"`
	BillingAddress  Address `json:"billing_address"`
	ShippingAddress Address `json:"shipping_address"`
}
