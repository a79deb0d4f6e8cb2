package schema

import (
	"sort"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// BuildFromSDL parses sdl and validates it into a full GraphQL schema
// (builtin scalars and directives merged in, interface/union possible-type
// sets resolved), then projects it down to the traversal-only Schema this
// package exposes to the executor.
func BuildFromSDL(name, sdl string) (*Schema, error) {
	astSchema, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, err
	}
	return BuildFromAST(astSchema), nil
}

// BuildFromAST projects an already-validated gqlparser schema down to the
// Schema shape the executor walks.
func BuildFromAST(s *ast.Schema) *Schema {
	out := &Schema{
		Types:      make(map[string]*Type, len(s.Types)),
		Directives: make(map[string]*Directive, len(s.Directives)),
	}
	if s.Query != nil {
		out.QueryType = s.Query.Name
	}
	if s.Mutation != nil {
		out.MutationType = s.Mutation.Name
	}
	if s.Subscription != nil {
		out.SubscriptionType = s.Subscription.Name
	}

	typeNames := make([]string, 0, len(s.Types))
	for name := range s.Types {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)
	for _, name := range typeNames {
		out.Types[name] = buildType(s, s.Types[name])
	}

	directiveNames := make([]string, 0, len(s.Directives))
	for name := range s.Directives {
		directiveNames = append(directiveNames, name)
	}
	sort.Strings(directiveNames)
	for _, name := range directiveNames {
		out.Directives[name] = buildDirective(s.Directives[name])
	}
	return out
}

func buildType(s *ast.Schema, def *ast.Definition) *Type {
	t := &Type{Name: def.Name, Kind: buildTypeKind(def.Kind)}

	switch def.Kind {
	case ast.Object, ast.Interface:
		for _, iface := range def.Interfaces {
			t.Interfaces = append(t.Interfaces, iface)
		}
		sort.Strings(t.Interfaces)
		for _, f := range def.Fields {
			if isMetaField(f.Name) {
				continue
			}
			t.Fields = append(t.Fields, buildField(f))
		}
	case ast.Union:
		for _, possible := range s.PossibleTypes[def.Name] {
			t.PossibleTypes = append(t.PossibleTypes, possible.Name)
		}
		sort.Strings(t.PossibleTypes)
	case ast.Enum:
		for _, v := range def.EnumValues {
			t.EnumValues = append(t.EnumValues, &EnumValue{
				Name:              v.Name,
				Description:       v.Description,
				IsDeprecated:      hasDeprecatedDirective(v.Directives),
				DeprecationReason: deprecationReason(v.Directives),
			})
		}
	}
	if def.Kind == ast.Interface {
		for _, possible := range s.PossibleTypes[def.Name] {
			t.PossibleTypes = append(t.PossibleTypes, possible.Name)
		}
		sort.Strings(t.PossibleTypes)
	}
	return t
}

func buildTypeKind(k ast.DefinitionKind) TypeKind {
	switch k {
	case ast.Object:
		return TypeKindObject
	case ast.Interface:
		return TypeKindInterface
	case ast.Union:
		return TypeKindUnion
	case ast.Enum:
		return TypeKindEnum
	default:
		return TypeKindScalar
	}
}

func isMetaField(name string) bool {
	return name == "__typename" || name == "__schema" || name == "__type"
}

func buildField(f *ast.FieldDefinition) *Field {
	field := &Field{Name: f.Name, Type: buildTypeRef(f.Type)}
	for _, arg := range f.Arguments {
		field.Arguments = append(field.Arguments, buildArgument(arg))
	}
	return field
}

func buildArgument(a *ast.ArgumentDefinition) *InputValue {
	iv := &InputValue{
		Name:              a.Name,
		Description:       a.Description,
		Type:              buildTypeRef(a.Type),
		IsDeprecated:      hasDeprecatedDirective(a.Directives),
		DeprecationReason: deprecationReason(a.Directives),
	}
	if a.DefaultValue != nil {
		iv.DefaultValue = literalValue(a.DefaultValue)
	}
	return iv
}

func buildTypeRef(t *ast.Type) *TypeRef {
	var inner *TypeRef
	if t.NamedType != "" {
		inner = &TypeRef{Kind: TypeRefKindNamed, Named: t.NamedType}
	} else {
		inner = &TypeRef{Kind: TypeRefKindList, OfType: buildTypeRef(t.Elem)}
	}
	if t.NonNull {
		return &TypeRef{Kind: TypeRefKindNonNull, OfType: inner}
	}
	return inner
}

func buildDirective(d *ast.DirectiveDefinition) *Directive {
	directive := &Directive{
		Name:         d.Name,
		Description:  d.Description,
		IsRepeatable: d.IsRepeatable,
	}
	for _, loc := range d.Locations {
		directive.Locations = append(directive.Locations, string(loc))
	}
	for _, arg := range d.Arguments {
		directive.Arguments = append(directive.Arguments, buildArgument(arg))
	}
	return directive
}

// literalValue best-effort converts a schema-default-value AST node into a
// plain Go value. Nested list/object defaults are left as their raw source
// text — the cache never evaluates schema default values itself, arguments
// arrive pre-coerced from the query executor's caller.
func literalValue(v *ast.Value) any {
	switch v.Kind {
	case ast.IntValue, ast.FloatValue, ast.StringValue, ast.EnumValue:
		return v.Raw
	case ast.BooleanValue:
		return v.Raw == "true"
	case ast.NullValue:
		return nil
	default:
		return v.Raw
	}
}

func hasDeprecatedDirective(dirs ast.DirectiveList) bool {
	return dirs.ForName("deprecated") != nil
}

func deprecationReason(dirs ast.DirectiveList) string {
	d := dirs.ForName("deprecated")
	if d == nil {
		return ""
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return ""
}
