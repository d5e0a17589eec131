package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/chuo/core/schema"
)

var errInvalidValues = errors.New("invalid values")

// checkSchemas loads the schema definitions found in fsys, reporting the first broken one.
func (cli *commandLine) checkSchemas(fsys fs.FS) error {
	reg := schema.NewRegistry()
	if err := reg.LoadFS(fsys, "."); err != nil {
		return err
	}
	names := reg.Names()
	if len(names) == 0 {
		return errors.New("no schema definition found")
	}
	for _, name := range names {
		s, _ := reg.Get(name)
		fmt.Fprintf(cli.out, "%s: %d fields\n", name, len(s.FieldNames()))
	}
	return nil
}

// validate checks the JSON document in file against a registered schema, and prints the errors as YAML.
func (cli *commandLine) validate(ctx context.Context, schemaName, file string) error {
	s, ok := cli.schemas.Get(schemaName)
	if !ok {
		return errors.Errorf("%q: unknown schema", schemaName)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "reading values")
	}
	var values schema.Values
	if err = json.Unmarshal(data, &values); err != nil {
		return errors.Wrap(err, "decoding values")
	}

	cleaned, errs, err := cli.validator.ValidateAllContext(ctx, s, values)
	if err != nil {
		return errors.Wrap(err, "validating values")
	}
	out := map[string]interface{}{"valid": len(errs) == 0}
	if len(errs) > 0 {
		out["errors"] = map[string][]string(errs)
	} else {
		out["values"] = map[string]interface{}(cleaned)
	}

	enc := yaml.NewEncoder(cli.out)
	enc.SetIndent(2)
	if err = enc.Encode(out); err != nil {
		return errors.Wrap(err, "printing result")
	}
	if err = enc.Close(); err != nil {
		return err
	}
	if len(errs) > 0 {
		return errInvalidValues
	}
	return nil
}
