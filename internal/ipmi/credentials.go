package ipmi

import "codeberg.org/mutker/ipmifanctl/internal/errors"

// Credentials address and authenticate against one BMC
type Credentials struct {
	Host     string
	Username string
	Password string
}

// Resolve returns c with every empty field taken from fallback, failing
// when a field is still empty.
func (c Credentials) Resolve(fallback Credentials) (Credentials, error) {
	resolved := Credentials{
		Host:     firstNonEmpty(c.Host, fallback.Host),
		Username: firstNonEmpty(c.Username, fallback.Username),
		Password: firstNonEmpty(c.Password, fallback.Password),
	}

	return resolved, resolved.Validate()
}

func (c Credentials) Validate() error {
	errFactory := errors.New()

	switch {
	case c.Host == "":
		return errFactory.WithData(errors.ErrMissingCredential, "host is required")
	case c.Username == "":
		return errFactory.WithData(errors.ErrMissingCredential, "username is required")
	case c.Password == "":
		return errFactory.WithData(errors.ErrMissingCredential, "password is required")
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
