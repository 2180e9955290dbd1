// Package i18n 提供面板文本的多语言查找
package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

// Translator 按点分路径查找文本, 缺失时退回到 fallback 语言, 再缺失返回键本身
type Translator struct {
	locale   string
	fallback string
	catalogs map[string]map[string]string
}

// New 加载内置语言包
func New(locale, fallback string) (*Translator, error) {
	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("读取语言包失败: %w", err)
	}

	t := &Translator{
		locale:   locale,
		fallback: fallback,
		catalogs: make(map[string]map[string]string),
	}

	for _, e := range entries {
		data, err := locales.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("读取语言包失败: %w", err)
		}
		if err := t.Load(strings.TrimSuffix(e.Name(), ".yaml"), data); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Load 加载或覆盖一个语言的 YAML 文本
func (t *Translator) Load(lang string, data []byte) error {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("解析语言包 %s 失败: %w", lang, err)
	}

	flat := make(map[string]string)
	flatten("", tree, flat)
	t.catalogs[lang] = flat
	return nil
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func (t *Translator) Locale() string {
	return t.locale
}

// SetLocale 切换当前语言; 未知语言也接受, 查找会落到 fallback
func (t *Translator) SetLocale(locale string) {
	t.locale = locale
}

func (t *Translator) T(key string) string {
	if s, ok := t.catalogs[t.locale][key]; ok {
		return s
	}
	if s, ok := t.catalogs[t.fallback][key]; ok {
		return s
	}
	return key
}

// Languages 已加载的语言
func (t *Translator) Languages() []string {
	langs := make([]string, 0, len(t.catalogs))
	for lang := range t.catalogs {
		langs = append(langs, lang)
	}
	return langs
}
