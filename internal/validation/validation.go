package validation

import (
	"fmt"
	"html"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var (
	validate = newValidator()
	policy   = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーのフィールド名はJSONのキー名で返す
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Error はフィールドごとの入力エラー
type Error struct {
	Fields map[string]string
}

// NewError は単一フィールドのErrorを作成する
func NewError(field, reason string) *Error {
	return &Error{Fields: map[string]string{field: reason}}
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Struct は validate タグに従って v を検証する
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = describe(fe)
	}
	return &Error{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

// maxSanitizePasses はエンティティ多重エンコードを展開する上限回数
const maxSanitizePasses = 8

// Sanitize はHTMLタグを取り除き、前後の空白を削除する
// エンコードされたタグも復元後に除去されるよう、結果が変化しなくなるまで繰り返す
func Sanitize(s string) string {
	for range maxSanitizePasses {
		out := html.UnescapeString(policy.Sanitize(s))
		if out == s {
			return strings.TrimSpace(s)
		}
		s = out
	}
	return strings.TrimSpace(policy.Sanitize(s))
}
