// Package config provides configuration loading and validation for stowfs.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (STOWFS_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"stowfs.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stores, err := cfg.ObjectStores(backends.Default())
//
// # Environment Variables
//
// Scalar keys map to environment variables with the STOWFS_ prefix:
//   - database.type → STOWFS_DATABASE_TYPE
//   - server.addr → STOWFS_SERVER_ADDR
//   - storage.temp_dir → STOWFS_STORAGE_TEMP_DIR
//
// The objectstore subtrees can only come from files.
//
// # Object Stores
//
// The objectstore key holds either a single store:
//
//	objectstore:
//	  kind: s3
//	  arguments:
//	    bucket: files
//
// or a map of named stores, where a string value aliases another name:
//
//	objectstore:
//	  default:
//	    kind: s3
//	    arguments: {bucket: files}
//	  archive:
//	    kind: swift
//	    arguments: {bucket: archive, user: u, key: k, auth_url: https://keystone/v3}
//	  root: default
//
// objectstore_multibucket takes a single store whose bucket argument is a
// prefix; users are spread over num_buckets buckets.
//
// Store names are case insensitive and read in lower case.
package config
