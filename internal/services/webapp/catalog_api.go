package webapp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"scuba-assessor/internal/adapters/catalog"
	"scuba-assessor/internal/services/catalogimport"

	"gopkg.in/yaml.v3"
)

const metaActiveCatalogPath = "active_catalog_path"

type catalogFileInfo struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Version   string `json:"version,omitempty"`
	Framework string `json:"framework,omitempty"`
	Baselines int    `json:"baselines"`
	SHA256    string `json:"sha256,omitempty"`
	Active    bool   `json:"active"`
}

func (s *Server) catalogDir() string {
	// 与 DB 同级的 data/catalogs，适配“安装器模式”（应用目录只读，运行数据落在 data/）。
	return filepath.Join(filepath.Dir(s.opts.DBPath), "catalogs")
}

func (s *Server) activeCatalogPath(ctx context.Context) string {
	path := s.opts.CatalogPath
	if v, _ := s.store.GetSchemaMetaValue(ctx, metaActiveCatalogPath); strings.TrimSpace(v) != "" {
		path = strings.TrimSpace(v)
	}
	return path
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleCatalogList(w, r)
	case http.MethodPost:
		// /api/catalog (POST) 作为一个简化路由：根据 action 分发
		s.handleCatalogPost(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCatalogList(w http.ResponseWriter, r *http.Request) {
	catalogDir := s.catalogDir()
	_ = os.MkdirAll(catalogDir, 0o755)

	activePath := s.activeCatalogPath(r.Context())

	// 收集候选文件：
	// - 启动参数指定的默认模板（允许用户“切回默认”）
	// - 当前 active 的路径
	// - catalogDir 下的 *.yaml/*.yml
	candidates := map[string]struct{}{}
	for _, p := range []string{s.opts.CatalogPath, activePath} {
		p = strings.TrimSpace(p)
		if p != "" {
			candidates[p] = struct{}{}
		}
	}
	for _, pat := range []string{"*.yaml", "*.yml"} {
		files, _ := filepath.Glob(filepath.Join(catalogDir, pat))
		for _, f := range files {
			candidates[f] = struct{}{}
		}
	}

	var infos []catalogFileInfo
	for p := range candidates {
		info, err := inspectCatalogFile(p)
		if err != nil {
			continue
		}
		info.Active = p == activePath
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Filename < infos[j].Filename })

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"active_path": activePath,
		"catalog_dir": catalogDir,
		"catalogs":    infos,
	})
}

func (s *Server) handleCatalogPost(w http.ResponseWriter, r *http.Request) {
	// 约定：POST /api/catalog?action=import|activate
	action := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("action")))
	switch action {
	case "import":
		s.handleCatalogImport(w, r)
	case "activate":
		s.handleCatalogActivate(w, r)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid action: %s", action))
	}
}

// handleCatalogImport 接收 YAML 文本并落盘到 catalogDir，
// 校验通过后设为 active 并同步导入数据库（覆盖同 ID 基线）。
func (s *Server) handleCatalogImport(w http.ResponseWriter, r *http.Request) {
	type reqBody struct {
		Operator string `json:"operator,omitempty"`
		Filename string `json:"filename,omitempty"` // 可选
		Content  string `json:"content"`            // YAML 原文
	}
	var req reqBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty content"))
		return
	}

	catalogDir := s.catalogDir()
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create catalog dir: %w", err))
		return
	}

	now := time.Now().Unix()
	name := strings.TrimSpace(req.Filename)
	name = filepath.Base(name)
	name = sanitizeCatalogFilename(name)
	if name == "" {
		name = fmt.Sprintf("catalog_import_%d.yaml", now)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".yaml") && !strings.HasSuffix(strings.ToLower(name), ".yml") {
		name += ".yaml"
	}
	dst := filepath.Join(catalogDir, fmt.Sprintf("%d_%s", now, name))
	if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("write file: %w", err))
		return
	}

	// loader 做完整结构校验，失败则回收落盘文件。
	loader := catalog.NewLoader(dst)
	if _, err := loader.Load(r.Context()); err != nil {
		_ = os.Remove(dst)
		writeError(w, http.StatusBadRequest, fmt.Errorf("catalog validation failed: %w", err))
		return
	}

	res, err := catalogimport.ImportInto(r.Context(), s.store, dst, strings.TrimSpace(req.Operator))
	if err != nil {
		_ = os.Remove(dst)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpsertSchemaMetaValue(r.Context(), metaActiveCatalogPath, dst); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	info, _ := inspectCatalogFile(dst)
	info.Active = true

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"file":     info,
		"imported": res.Imported,
		"version":  res.Version,
	})
}

func (s *Server) handleCatalogActivate(w http.ResponseWriter, r *http.Request) {
	type reqBody struct {
		Operator string `json:"operator,omitempty"`
		Path     string `json:"path"`
	}
	var req reqBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("path is required"))
		return
	}

	// 校验 & 同步导入数据库，保证“激活即生效”。
	loader := catalog.NewLoader(path)
	if _, err := loader.Load(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("catalog validation failed: %w", err))
		return
	}
	res, err := catalogimport.ImportInto(r.Context(), s.store, path, strings.TrimSpace(req.Operator))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpsertSchemaMetaValue(r.Context(), metaActiveCatalogPath, path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"active_path": path,
		"imported":    res.Imported,
		"version":     res.Version,
	})
}

func sanitizeCatalogFilename(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	in = strings.ReplaceAll(in, " ", "_")
	in = strings.ReplaceAll(in, string(os.PathSeparator), "_")
	in = strings.ReplaceAll(in, "..", "_")
	return in
}

func inspectCatalogFile(path string) (catalogFileInfo, error) {
	if strings.TrimSpace(path) == "" {
		return catalogFileInfo{}, fmt.Errorf("empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return catalogFileInfo{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return catalogFileInfo{}, err
	}
	sum := sha256.Sum256(raw)
	sha := hex.EncodeToString(sum[:])

	var meta struct {
		Version   string `yaml:"version"`
		Meta      struct {
			Framework string `yaml:"framework"`
		} `yaml:"meta"`
		Baselines []struct{} `yaml:"baselines"`
	}
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return catalogFileInfo{}, err
	}

	return catalogFileInfo{
		Path:      path,
		Filename:  filepath.Base(path),
		Version:   strings.TrimSpace(meta.Version),
		Framework: strings.TrimSpace(meta.Meta.Framework),
		Baselines: len(meta.Baselines),
		SHA256:    sha,
	}, nil
}
