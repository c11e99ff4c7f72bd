package models

// Reason records which predicate chain confirmed a match
type Reason string

const (
	ReasonPolicyNumber          Reason = "PolicyNo"
	ReasonEndorsementNumber     Reason = "EndoNo"
	ReasonCustomerPolicyPremium Reason = "Customer+Policy+Premium"
	ReasonCustomerPremiumTenure Reason = "Customer+Premium+Tenure"
)

// AllReasons lists every reason tag in pass order
var AllReasons = []Reason{
	ReasonPolicyNumber,
	ReasonEndorsementNumber,
	ReasonCustomerPolicyPremium,
	ReasonCustomerPremiumTenure,
}

// IsValid checks if the reason is a known tag
func (r Reason) IsValid() bool {
	for _, known := range AllReasons {
		if r == known {
			return true
		}
	}
	return false
}

// MatchPair links one broker record to one insurer record
type MatchPair struct {
	BrokerIndex  string `json:"broker_index" db:"broker_index"`
	InsurerIndex string `json:"insurer_index" db:"insurer_index"`
	Reason       Reason `json:"reason" db:"reason"`
}
