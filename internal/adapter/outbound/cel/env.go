package cel

import (
	"net"
	"net/http"
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

// NewKeyEnvironment creates the CEL environment caller-key expressions are compiled in.
//
// Variables:
//   - ip: caller source address
//   - method, path: HTTP request line
//   - headers: request headers, canonical names, first value only
//
// Functions:
//   - header(headers, name): header value by case-insensitive name, "" when absent
//   - ip_in_cidr(ip, cidr): network membership
//   - glob(pattern, s): shell-style match
func NewKeyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("ip", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),

		cel.Function("header",
			cel.Overload("header_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.StringType), cel.StringType},
				cel.StringType,
				cel.BinaryBinding(func(mapVal, nameVal ref.Val) ref.Val {
					name, ok := nameVal.Value().(string)
					if !ok {
						return types.String("")
					}
					m, ok := mapVal.(traits.Mapper)
					if !ok {
						return types.String("")
					}
					v, found := m.Find(types.String(http.CanonicalHeaderKey(name)))
					if !found {
						return types.String("")
					}
					return v
				}),
			),
		),

		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, s ref.Val) ref.Val {
					matched, _ := filepath.Match(pattern.Value().(string), s.Value().(string))
					return types.Bool(matched)
				}),
			),
		),
	)
}
