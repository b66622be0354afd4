package storage

import (
	"path"

	"github.com/google/uuid"

	"github.com/varfish-case-importer/internal/domain"
)

// UUIDFragment splits a UUID into "{first two hex chars}/{rest}" for bounded
// directory fan-out.
func UUIDFragment(id uuid.UUID) string {
	s := id.String()
	return s[:2] + "/" + s[2:]
}

// CaseDataPath is the location of a case import artifact below the bucket:
// case-data/{case fragment}/{job uuid}/{variant type}/{parts...}
func CaseDataPath(caseUUID, jobUUID uuid.UUID, varType domain.VariantType, parts ...string) string {
	elems := append([]string{"case-data", UUIDFragment(caseUUID), jobUUID.String(), string(varType)}, parts...)
	return path.Join(elems...)
}

// QueryResultsPath is the location of seqvars query output below the bucket.
func QueryResultsPath(caseUUID, jobUUID uuid.UUID, parts ...string) string {
	elems := append([]string{"query-results", UUIDFragment(caseUUID), "seqvars", jobUUID.String()}, parts...)
	return path.Join(elems...)
}

// InBucket prefixes key with the bucket name as expected by the worker.
func InBucket(bucket, key string) string {
	return bucket + "/" + key
}

// InternalOptions builds the options of the pipeline-owned object store.
func InternalOptions(cfg domain.InternalStorageConfig) Options {
	return Options{
		Protocol: ProtocolS3,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.AccessKey,
		Password: cfg.SecretKey,
		UseHTTPS: cfg.UseHTTPS,
		Region:   cfg.Region,
		PartSize: cfg.PartSize,
	}
}

// ExternalOptions builds the options for caller-supplied inputs of a project.
// Project settings win over the global defaults; a nil project uses the defaults.
func ExternalOptions(project *domain.ProjectStorage, cfg domain.ExternalStorageConfig) Options {
	opts := Options{
		Protocol:        Protocol(cfg.Protocol),
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.Username,
		Password:        cfg.Password,
		UseHTTPS:        cfg.UseHTTPS,
		Prefix:          cfg.Prefix,
		PartSize:        cfg.PartSize,
		AllowLocal:      cfg.AllowLocal,
		HTTPRateLimit:   cfg.HTTPRateLimit,
		HTTPTimeout:     cfg.HTTPTimeout,
		BreakerFailures: cfg.BreakerFailures,
	}
	if project != nil && project.Protocol != "" {
		opts.Protocol = Protocol(project.Protocol)
		opts.Host = project.Host
		opts.Port = project.Port
		opts.User = project.Username
		opts.Password = project.Password
		opts.UseHTTPS = project.UseHTTPS
		if project.Prefix != "" {
			opts.Prefix = project.Prefix
		}
	}
	return opts
}
