package lang

func init() {
	Register(&LanguageSpec{
		Language:       Rust,
		FileExtensions: []string{".rs"},
		FunctionNodeTypes: []string{
			"function_item",
			"function_signature_item",
		},
		ClassNodeTypes: []string{
			"struct_item",
			"enum_item",
			"trait_item",
		},
		ModuleNodeTypes:   []string{"source_file", "mod_item"},
		CallNodeTypes:     []string{"call_expression"},
		ImportNodeTypes:   []string{"use_declaration"},
		PackageIndicators: []string{"Cargo.toml"},
	})
}
