package domain

import (
	"github.com/tidwall/gjson"
)

// maxCredentialDepth bounds the fallback walk over nested responses.
const maxCredentialDepth = 16

// credentialShape is a flat object carrying a key and a secret field.
type credentialShape struct {
	keyField    string
	secretField string
}

// credentialShapes are tried in order on every object.
var credentialShapes = []credentialShape{
	{keyField: "access_key", secretField: "secret_key"},
	{keyField: "access_key", secretField: "secret_access_key"},
	{keyField: "key", secretField: "secret"},
}

func (s credentialShape) match(obj gjson.Result) (StorageCredentials, bool) {
	key := obj.Get(s.keyField)
	secret := obj.Get(s.secretField)
	if key.Type != gjson.String || key.Str == "" || secret.Type != gjson.String || secret.Str == "" {
		return StorageCredentials{}, false
	}
	return StorageCredentials{AccessKey: key.Str, SecretKey: secret.Str}, true
}

func matchFlat(obj gjson.Result) (StorageCredentials, bool) {
	for _, shape := range credentialShapes {
		if creds, ok := shape.match(obj); ok {
			return creds, true
		}
	}
	return StorageCredentials{}, false
}

// ExtractCredentials finds delegated S3 keys in a HydroShare response.
//
// Shapes, in order: the flat shapes on the top-level object, the flat shapes
// on each element of "service_accounts", then a depth-first walk over object
// values and over objects inside array values. The first match wins; key order
// in the document decides ties.
func ExtractCredentials(payload []byte) (StorageCredentials, error) {
	if !gjson.ValidBytes(payload) {
		return StorageCredentials{}, ErrMalformedCredentialResponse
	}
	if creds, ok := extractCredentials(gjson.ParseBytes(payload), 0); ok {
		return creds, nil
	}
	return StorageCredentials{}, ErrMalformedCredentialResponse
}

func extractCredentials(obj gjson.Result, depth int) (StorageCredentials, bool) {
	if depth > maxCredentialDepth || !obj.IsObject() {
		return StorageCredentials{}, false
	}

	if creds, ok := matchFlat(obj); ok {
		return creds, true
	}

	if accounts := obj.Get("service_accounts"); accounts.IsArray() {
		for _, account := range accounts.Array() {
			if !account.IsObject() {
				continue
			}
			if creds, ok := matchFlat(account); ok {
				return creds, true
			}
		}
	}

	var (
		creds StorageCredentials
		found bool
	)
	obj.ForEach(func(_, value gjson.Result) bool {
		switch {
		case value.IsObject():
			creds, found = extractCredentials(value, depth+1)
		case value.IsArray():
			value.ForEach(func(_, item gjson.Result) bool {
				if item.IsObject() {
					creds, found = extractCredentials(item, depth+1)
				}
				return !found
			})
		}
		return !found
	})
	return creds, found
}
