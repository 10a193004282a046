package config

import (
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// HCL renders the configuration as an HCL document that Parse accepts.
func (c *Config) HCL() []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(c, f.Body())
	return hclwrite.Format(f.Bytes())
}
