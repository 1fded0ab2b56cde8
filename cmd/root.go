package cmd

import (
	"errors"
	"io/fs"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/websecurify/proxify/cert"
	"github.com/websecurify/proxify/logging"
)

// LoadRoot returns the root credential used to sign host certificates.
//
// The credential is read from the configured PEM files. If they do not exist,
// a new root is issued and saved to them. If no files are configured, the new
// root is only kept in memory.
func LoadRoot(config *Config, logger logrus.FieldLogger) (*cert.Credential, error) {
	logger = logging.Default(logger)

	if config.CACertificate == "" || config.CAKey == "" {
		root, err := cert.IssueRoot(config.CAName, "", config.KeyLength)
		if err != nil {
			return nil, err
		}

		logger.Warnf(
			"Issued temporary root certificate '%s', it is lost when the process exits",
			root.Certificate.Subject.CommonName,
		)

		return root, nil
	}

	root, err := cert.LoadCredential(config.CACertificate, config.CAKey)
	if err == nil {
		logger.Infof(
			"Loaded root certificate '%s' from %s, expires at %s",
			root.Certificate.Subject.CommonName,
			config.CACertificate,
			root.Certificate.NotAfter.Format(time.RFC3339),
		)

		return root, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	root, err = cert.IssueRoot(config.CAName, "", config.KeyLength)
	if err != nil {
		return nil, err
	}

	if err := cert.SaveCredential(root, config.CACertificate, config.CAKey); err != nil {
		return nil, err
	}

	logger.Infof(
		"Issued root certificate '%s', saved to %s",
		root.Certificate.Subject.CommonName,
		config.CACertificate,
	)

	return root, nil
}
