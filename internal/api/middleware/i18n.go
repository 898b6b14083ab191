package middleware

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

const (
	sessionLanguageKey = "language"
	contextLanguageKey = "language"
	contextTranslator  = "translator"
)

// Translator hält Bundle und die flachen Übersetzungstabellen je Sprache
type Translator struct {
	bundle       *i18n.Bundle
	defaultLang  language.Tag
	supported    []language.Tag
	matcher      language.Matcher
	translations map[string]map[string]string
}

// NewTranslator lädt die eingebetteten Übersetzungen
func NewTranslator(defaultLanguage string) (*Translator, error) {
	def, err := language.Parse(defaultLanguage)
	if err != nil {
		def = language.English
	}

	bundle := i18n.NewBundle(def)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:       bundle,
		defaultLang:  def,
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		p := path.Join("locales", file.Name())
		data, err := localeFS.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(data, file.Name()); err != nil {
			return nil, fmt.Errorf("failed to parse locale %s: %w", file.Name(), err)
		}

		var nested map[string]interface{}
		if err := json.Unmarshal(data, &nested); err != nil {
			return nil, err
		}
		lang := strings.TrimSuffix(file.Name(), ".json")
		t.translations[lang] = flattenMap(nested, "")
		t.supported = append(t.supported, language.Make(lang))
	}

	// die Standardsprache muss vorn stehen, sie ist der Fallback des Matchers
	tags := []language.Tag{def}
	for _, tag := range t.supported {
		if tag != def {
			tags = append(tags, tag)
		}
	}
	t.matcher = language.NewMatcher(tags)
	return t, nil
}

// Languages liefert die Codes der geladenen Sprachen
func (t *Translator) Languages() []string {
	out := make([]string, 0, len(t.supported))
	for _, tag := range t.supported {
		out = append(out, tag.String())
	}
	return out
}

// Match wählt aus Accept-Language-Werten die beste unterstützte Sprache
func (t *Translator) Match(accept ...string) string {
	tag, _ := language.MatchStrings(t.matcher, accept...)
	base, _ := tag.Base()
	return base.String()
}

func (t *Translator) supports(lang string) bool {
	_, ok := t.translations[lang]
	return ok
}

// Translate übersetzt key in lang, mit Fallback auf die Standardsprache und den Schlüssel
func (t *Translator) Translate(lang, key string) string {
	loc := i18n.NewLocalizer(t.bundle, lang, t.defaultLang.String())
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: key})
	if err == nil && msg != "" {
		return msg
	}
	if v, ok := t.translations[lang][key]; ok {
		return v
	}
	if v, ok := t.translations[t.defaultLang.String()][key]; ok {
		return v
	}
	return key
}

// I18n wählt die Sprache aus ?lang=, Session oder Accept-Language
func I18n(t *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && t.supports(lang) {
			session.Set(sessionLanguageKey, lang)
			if err := session.Save(); err != nil {
				log.Debugf("Failed to save language in session: %v", err)
			}
		} else if v, ok := session.Get(sessionLanguageKey).(string); ok && t.supports(v) {
			lang = v
		} else {
			lang = t.Match(c.GetHeader("Accept-Language"))
		}
		if !t.supports(lang) {
			lang = t.defaultLang.String()
		}

		c.Set(contextLanguageKey, lang)
		c.Set(contextTranslator, t)
		c.Next()
	}
}

// T übersetzt key in die Sprache der Anfrage; ohne Middleware wird der Schlüssel geliefert
func T(c *gin.Context, key string) string {
	t, ok := c.Get(contextTranslator)
	if !ok {
		return key
	}
	return t.(*Translator).Translate(c.GetString(contextLanguageKey), key)
}

// Flache Map erstellen für einfacheren Zugriff (z.B. "error.invalid_date" statt error["invalid_date"])
func flattenMap(input map[string]interface{}, prefix string) map[string]string {
	result := make(map[string]string)
	for k, v := range input {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch child := v.(type) {
		case map[string]interface{}:
			for ck, cv := range flattenMap(child, key) {
				result[ck] = cv
			}
		case string:
			result[key] = child
		}
	}
	return result
}
