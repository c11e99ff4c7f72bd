package models

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Columns names the source columns each predicate reads on one side
type Columns struct {
	CustomerName      string `json:"customer_name" yaml:"customer_name" validate:"required"`
	PolicyNumber      string `json:"policy_number" yaml:"policy_number" validate:"required"`
	EndorsementNumber string `json:"endorsement_number,omitempty" yaml:"endorsement_number"`
	Product           string `json:"product" yaml:"product" validate:"required"`
	Premium           string `json:"premium" yaml:"premium" validate:"required"`
	StartDate         string `json:"start_date" yaml:"start_date" validate:"required"`
	EndDate           string `json:"end_date" yaml:"end_date" validate:"required"`
}

// Required returns every configured column name
func (c Columns) Required() []string {
	cols := []string{c.CustomerName, c.PolicyNumber, c.EndorsementNumber, c.Product, c.Premium, c.StartDate, c.EndDate}
	out := make([]string, 0, len(cols))
	for _, col := range cols {
		if col != "" {
			out = append(out, col)
		}
	}
	return out
}

// Schema maps reconciliation concepts to the column names of both ledgers
type Schema struct {
	Broker  Columns `json:"broker" yaml:"broker" validate:"required"`
	Insurer Columns `json:"insurer" yaml:"insurer" validate:"required"`
}

// DefaultSchema returns the column layout of the broker dump and the insurer statement
func DefaultSchema() Schema {
	return Schema{
		Broker: Columns{
			CustomerName:      "CustName",
			PolicyNumber:      "PolicyNo",
			EndorsementNumber: "EndoNo",
			Product:           "Policy Type",
			Premium:           "OD Premium",
			StartDate:         "Policy_StartDate",
			EndDate:           "Exp. Date",
		},
		Insurer: Columns{
			CustomerName: "INSURED_CUSTOMER_NAME",
			PolicyNumber: "POL_NUM_TXT",
			Product:      "PRODUCT_NAME",
			Premium:      "APPLICABLE_PREMIUM_AMOUNT",
			StartDate:    "POLICY_START_DATE",
			EndDate:      "POLICY_END_DATE",
		},
	}
}

// For returns the columns of the given side
func (s Schema) For(side Side) Columns {
	if side == SideInsurer {
		return s.Insurer
	}
	return s.Broker
}

// Validate checks that every column the passes read is named
func (s Schema) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return errors.Wrap(err, "invalid column schema")
	}
	if s.Broker.EndorsementNumber == "" {
		return errors.New("invalid column schema: broker endorsement_number is required")
	}
	return nil
}

// LoadSchema reads a YAML column mapping. Keys left out keep their default names.
func LoadSchema(path string) (Schema, error) {
	schema := DefaultSchema()
	if path == "" {
		return schema, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, errors.Wrapf(err, "failed to read column mapping %s", path)
	}
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return Schema{}, errors.Wrapf(err, "failed to parse column mapping %s", path)
	}
	if err := schema.Validate(); err != nil {
		return Schema{}, err
	}
	return schema, nil
}
