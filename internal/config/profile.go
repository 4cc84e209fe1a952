package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type PostingDatePolicy string

const (
	PostingDateToday PostingDatePolicy = "today"
	PostingDateOrder PostingDatePolicy = "order"
)

const (
	defaultWalkIn      = "Walk-In Customer"
	defaultPaymentMode = "Cash"
)

type Privileges struct {
	Save    bool `yaml:"save"`
	Confirm bool `yaml:"confirm"`
	Return  bool `yaml:"return"`
}

// Profile is the read-only POS profile shared by every tab of a session.
type Profile struct {
	Name               string            `yaml:"name"`
	Company            string            `yaml:"company"`
	Warehouse          string            `yaml:"warehouse"`
	Operator           string            `yaml:"operator"`
	TaxRate            decimal.Decimal   `yaml:"-"`
	RawTaxRate         string            `yaml:"tax_rate"`
	Rounding           bool              `yaml:"rounding"`
	WalkInCustomer     string            `yaml:"walk_in_customer"`
	PaymentModes       []string          `yaml:"payment_modes"`
	DefaultPaymentMode string            `yaml:"default_payment_mode"`
	PostingDate        PostingDatePolicy `yaml:"posting_date"`
	Privileges         Privileges        `yaml:"privileges"`
}

var ErrInvalidProfile = errors.New("invalid pos profile")

func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	if p.RawTaxRate != "" {
		rate, err := decimal.NewFromString(p.RawTaxRate)
		if err != nil {
			return nil, fmt.Errorf("%w: tax_rate %q: %v", ErrInvalidProfile, p.RawTaxRate, err)
		}
		p.TaxRate = rate
	}
	if p.TaxRate.IsNegative() {
		return nil, fmt.Errorf("%w: tax_rate cannot be negative", ErrInvalidProfile)
	}

	if p.WalkInCustomer == "" {
		p.WalkInCustomer = defaultWalkIn
	}
	if len(p.PaymentModes) == 0 {
		p.PaymentModes = []string{defaultPaymentMode}
	}
	if p.DefaultPaymentMode == "" {
		p.DefaultPaymentMode = p.PaymentModes[0]
	}
	if !p.AllowsPaymentMode(p.DefaultPaymentMode) {
		return nil, fmt.Errorf("%w: default payment mode %q is not listed", ErrInvalidProfile, p.DefaultPaymentMode)
	}

	switch p.PostingDate {
	case "":
		p.PostingDate = PostingDateToday
	case PostingDateToday, PostingDateOrder:
	default:
		return nil, fmt.Errorf("%w: posting_date %q", ErrInvalidProfile, p.PostingDate)
	}

	return &p, nil
}

func (p *Profile) AllowsPaymentMode(mode string) bool {
	return slices.Contains(p.PaymentModes, mode)
}

// IsWalkIn reports whether name is the anonymous customer sentinel.
func (p *Profile) IsWalkIn(name string) bool {
	return name == p.WalkInCustomer
}
