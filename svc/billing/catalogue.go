package billing

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

// CatalogueEntry is a plan resolved for one interval and currency.
type CatalogueEntry struct {
	Plan           PlanCode
	Interval       string
	Currency       string
	QuotaMessages  int
	Price          int64
	ProviderPlanID string
}

type planDef struct {
	code           PlanCode
	providerPlanID string
	quota          int
	intervals      []string
	prices         map[string]int64
}

// Catalogue is the immutable plan price list. It is safe for concurrent use.
type Catalogue struct {
	plans      map[PlanCode]planDef
	byProvider map[string]PlanCode
}

type catalogueFile struct {
	Plans []struct {
		Code           string            `yaml:"code"`
		ProviderPlanID string            `yaml:"provider_plan_id"`
		QuotaMessages  int               `yaml:"quota_messages"`
		Intervals      []string          `yaml:"intervals"`
		Prices         map[string]string `yaml:"prices"`
	} `yaml:"plans"`
}

// DefaultCatalogue returns the built in catalogue.
func DefaultCatalogue() *Catalogue {
	c, err := ParseCatalogue(defaultCatalogue)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalogue reads the catalogue from path, or the built in one when path is empty.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return ParseCatalogue(defaultCatalogue)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalogue, err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes and validates a YAML catalogue.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalogue, err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("%w: no plans defined", ErrInvalidCatalogue)
	}

	c := &Catalogue{
		plans:      make(map[PlanCode]planDef, len(file.Plans)),
		byProvider: make(map[string]PlanCode, len(file.Plans)),
	}
	for _, p := range file.Plans {
		code := PlanCode(strings.ToUpper(strings.TrimSpace(p.Code)))
		if code == "" {
			return nil, fmt.Errorf("%w: plan code is empty", ErrInvalidCatalogue)
		}
		if _, dup := c.plans[code]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %s", ErrInvalidCatalogue, code)
		}
		if p.ProviderPlanID == "" {
			return nil, fmt.Errorf("%w: plan %s has no provider plan id", ErrInvalidCatalogue, code)
		}
		if other, dup := c.byProvider[p.ProviderPlanID]; dup {
			return nil, fmt.Errorf("%w: provider plan id %s used by %s and %s", ErrInvalidCatalogue, p.ProviderPlanID, other, code)
		}
		if p.QuotaMessages <= 0 {
			return nil, fmt.Errorf("%w: plan %s has no quota", ErrInvalidCatalogue, code)
		}

		def := planDef{
			code:           code,
			providerPlanID: p.ProviderPlanID,
			quota:          p.QuotaMessages,
			prices:         make(map[string]int64, len(p.Prices)),
		}
		for _, iv := range p.Intervals {
			def.intervals = append(def.intervals, strings.ToLower(strings.TrimSpace(iv)))
		}
		if len(def.intervals) == 0 {
			def.intervals = []string{IntervalMonthly}
		}
		for currency, amount := range p.Prices {
			minor, err := ToMinor(amount)
			if err != nil {
				return nil, fmt.Errorf("%w: plan %s %s price: %w", ErrInvalidCatalogue, code, currency, err)
			}
			def.prices[strings.ToUpper(currency)] = minor
		}
		if len(def.prices) == 0 {
			return nil, fmt.Errorf("%w: plan %s has no prices", ErrInvalidCatalogue, code)
		}

		c.plans[code] = def
		c.byProvider[p.ProviderPlanID] = code
	}
	return c, nil
}

// Resolve returns the entry for plan, interval and currency.
func (c *Catalogue) Resolve(plan, interval, currency string) (CatalogueEntry, error) {
	code := PlanCode(strings.ToUpper(strings.TrimSpace(plan)))
	def, ok := c.plans[code]
	if !ok {
		return CatalogueEntry{}, fmt.Errorf("%w: %q", ErrPlanNotFound, plan)
	}

	iv := strings.ToLower(strings.TrimSpace(interval))
	if iv != IntervalMonthly || !slices.Contains(def.intervals, iv) {
		return CatalogueEntry{}, ErrIntervalUnsupported
	}

	cur := strings.ToUpper(strings.TrimSpace(currency))
	price, ok := def.prices[cur]
	if !ok {
		return CatalogueEntry{}, fmt.Errorf("%w: %s is not priced in %q", ErrCurrencyMismatch, code, currency)
	}

	return CatalogueEntry{
		Plan:           code,
		Interval:       iv,
		Currency:       cur,
		QuotaMessages:  def.quota,
		Price:          price,
		ProviderPlanID: def.providerPlanID,
	}, nil
}

// ProviderPlanID returns the provider plan id for plan.
func (c *Catalogue) ProviderPlanID(plan PlanCode) (string, bool) {
	def, ok := c.plans[PlanCode(strings.ToUpper(string(plan)))]
	return def.providerPlanID, ok
}

// PlanByProviderID maps a provider plan id back to a plan code.
func (c *Catalogue) PlanByProviderID(id string) (PlanCode, bool) {
	code, ok := c.byProvider[strings.TrimSpace(id)]
	return code, ok
}
