package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"scuba-assessor/internal/domain/model"

	"gopkg.in/yaml.v3"
)

// Loader 负责从磁盘读取并校验基线目录文件。
type Loader struct {
	CatalogFile string
}

// LoadedCatalog 是加载后的基线集合和其文件哈希，用于留痕与版本确认。
type LoadedCatalog struct {
	Bundle model.BaselineBundle
	SHA256 string
}

func NewLoader(catalogFile string) *Loader {
	return &Loader{CatalogFile: catalogFile}
}

// Load 读取基线目录并执行基础结构校验。
func (l *Loader) Load(ctx context.Context) (*LoadedCatalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(l.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("read baseline catalog: %w", err)
	}

	var bundle model.BaselineBundle
	if err := yaml.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("parse baseline catalog: %w", err)
	}
	if err := validateBundle(bundle); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	return &LoadedCatalog{
		Bundle: bundle,
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// validateBundle 检查基线目录的完整性与唯一性。
func validateBundle(bundle model.BaselineBundle) error {
	if strings.TrimSpace(bundle.Version) == "" {
		return errors.New("baseline catalog: version is required")
	}
	if strings.TrimSpace(bundle.BundleType) == "" {
		return errors.New("baseline catalog: bundle_type is required")
	}
	if len(bundle.Baselines) == 0 {
		return errors.New("baseline catalog: baselines is empty")
	}

	seen := make(map[string]struct{}, len(bundle.Baselines))
	for _, b := range bundle.Baselines {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			return errors.New("baseline catalog: baseline id is required")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("baseline catalog: duplicate baseline id: %s", id)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(b.Title) == "" {
			return fmt.Errorf("baseline catalog: title is required: %s", id)
		}
		if !model.CriticalityLevel(b.Criticality).Valid() {
			return fmt.Errorf("baseline catalog: unknown criticality %q: %s", b.Criticality, id)
		}
		if !model.CheckType(b.CheckType).Valid() {
			return fmt.Errorf("baseline catalog: unknown check_type %q: %s", b.CheckType, id)
		}
		if !knownService(b.Service) {
			return fmt.Errorf("baseline catalog: unknown service %q: %s", b.Service, id)
		}
		if model.CheckType(b.CheckType) == model.CheckConfiguration &&
			strings.TrimSpace(b.GAMCommand) == "" {
			return fmt.Errorf("baseline catalog: gam_command is required for configuration check: %s", id)
		}
	}

	return nil
}

func knownService(name string) bool {
	for _, s := range model.KnownServices() {
		if string(s) == name {
			return true
		}
	}
	return false
}

// ToBaseline 将一条 YAML 定义转换为领域模型。
// check_logic 在此处序列化为 JSON，后续执行器按需解读。
func ToBaseline(entry model.BaselineEntry) (model.Baseline, error) {
	var logic json.RawMessage
	if len(entry.CheckLogic) > 0 {
		raw, err := json.Marshal(entry.CheckLogic)
		if err != nil {
			return model.Baseline{}, fmt.Errorf("encode check_logic for %s: %w", entry.ID, err)
		}
		logic = raw
	}

	return model.Baseline{
		BaselineID:  strings.TrimSpace(entry.ID),
		ServiceName: model.ServiceName(entry.Service),
		Title:       entry.Title,
		Description: entry.Description,
		Requirement: entry.Requirement,
		Remediation: entry.Remediation,
		References:  entry.References,
		Criticality: model.CriticalityLevel(entry.Criticality),
		CheckType:   model.CheckType(entry.CheckType),
		GAMCommand:  strings.TrimSpace(entry.GAMCommand),
		APIEndpoint: strings.TrimSpace(entry.APIEndpoint),
		Expected:    entry.Expected,
		CheckLogic:  logic,
		Enabled:     entry.Enabled,
	}, nil
}
