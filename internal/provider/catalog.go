package provider

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Поддерживаемые типы адаптеров в каталоге.
const (
	KindDummy = "dummy"
	KindPGHub = "pghub"
)

// Catalog: YAML-описание подключённых провайдеров.
type Catalog struct {
	Providers []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
}

// ProviderConfig: одна запись каталога.
type ProviderConfig struct {
	ID         string `yaml:"id" validate:"required,alphanum"`
	Kind       string `yaml:"kind" validate:"required,oneof=dummy pghub"`
	Endpoint   string `yaml:"endpoint" validate:"omitempty,url"`
	MerchantID string `yaml:"merchant_id" validate:"required_if=Kind pghub"`
	Currency   string `yaml:"currency" validate:"omitempty,len=3"`
	MinorUnits int32  `yaml:"minor_units" validate:"gte=0,lte=4"`
	Disabled   bool   `yaml:"disabled"`
}

// DefaultCatalog используется, когда файл каталога не задан: только DUMMY.
func DefaultCatalog() Catalog {
	return Catalog{Providers: []ProviderConfig{{ID: DummyID, Kind: KindDummy}}}
}

// LoadCatalog читает и валидирует каталог. Пустой путь означает каталог по умолчанию.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog разбирает YAML и проверяет записи.
func ParseCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode provider catalog: %w", err)
	}
	for i := range catalog.Providers {
		p := &catalog.Providers[i]
		p.ID = strings.ToUpper(strings.TrimSpace(p.ID))
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Currency == "" {
			p.Currency = "USD"
		}
		p.Currency = strings.ToUpper(p.Currency)
	}
	if err := validator.New().Struct(catalog); err != nil {
		return Catalog{}, fmt.Errorf("invalid provider catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(catalog.Providers))
	for _, p := range catalog.Providers {
		if p.Kind == KindDummy && p.ID != DummyID {
			return Catalog{}, fmt.Errorf("invalid provider catalog: dummy provider must use id %s", DummyID)
		}
		if p.Kind == KindPGHub && p.Endpoint == "" {
			return Catalog{}, fmt.Errorf("invalid provider catalog: %s requires endpoint", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return Catalog{}, fmt.Errorf("invalid provider catalog: %s declared twice", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return catalog, nil
}

// Build создаёт реестр из включённых записей. DUMMY возвращается отдельно,
// чтобы вызывающий код мог управлять сценарием mock-провайдера.
func (c Catalog) Build() (*Registry, *Dummy, error) {
	var (
		adapters []Adapter
		dummy    *Dummy
	)
	for _, p := range c.Providers {
		if p.Disabled {
			continue
		}
		switch p.Kind {
		case KindDummy:
			if dummy != nil {
				return nil, nil, fmt.Errorf("dummy provider declared twice")
			}
			dummy = NewDummy()
			adapters = append(adapters, dummy)
		case KindPGHub:
			adapters = append(adapters, NewPGHub(PGHubConfig{
				ID:         p.ID,
				Endpoint:   p.Endpoint,
				MerchantID: p.MerchantID,
				Currency:   p.Currency,
				MinorUnits: p.MinorUnits,
			}))
		default:
			return nil, nil, fmt.Errorf("unsupported provider kind %q", p.Kind)
		}
	}
	registry, err := NewRegistry(adapters...)
	if err != nil {
		return nil, nil, err
	}
	return registry, dummy, nil
}
