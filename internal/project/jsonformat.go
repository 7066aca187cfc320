package project

import (
	"encoding/json"
	"fmt"

	"sdyn/internal/datamodel"
	"sdyn/internal/errors"
)

// The native JSON project format (spec §6.1): a plain object with
// sim_specs/dimensions/units/models keys whose shape mirrors
// internal/datamodel directly, so decoding is a straight unmarshal
// followed by a field-by-field translation rather than a real parser.

type jsonProject struct {
	Name       string          `json:"name"`
	SimSpecs   jsonSimSpecs    `json:"sim_specs"`
	Dimensions []jsonDimension `json:"dimensions"`
	Units      []jsonUnitDecl  `json:"units"`
	Models     []jsonModel     `json:"models"`
	Source     *string         `json:"source,omitempty"`
}

type jsonSimSpecs struct {
	Start     float64 `json:"start"`
	Stop      float64 `json:"stop"`
	DT        float64 `json:"dt"`
	SaveStep  float64 `json:"save_step,omitempty"`
	Method    string  `json:"method,omitempty"` // "euler" (default) or "rk4"
	TimeUnits string  `json:"time_units,omitempty"`
}

type jsonDimension struct {
	Name     string   `json:"name"`
	Size     int      `json:"size,omitempty"`
	Elements []string `json:"elements,omitempty"`
	MapsTo   string   `json:"maps_to,omitempty"`
}

type jsonUnitDecl struct {
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
	Equation string   `json:"equation,omitempty"`
}

type jsonModel struct {
	Name      string          `json:"name"`
	Variables []jsonVariable  `json:"variables"`
	Views     []jsonView      `json:"views,omitempty"`
}

type jsonVariable struct {
	Kind string `json:"kind"` // "stock", "flow", "aux", "module"
	Name string `json:"name"`
	Doc  string `json:"doc,omitempty"`
	Unit string `json:"unit,omitempty"`

	Equation *jsonEquation `json:"equation,omitempty"` // stock's initial, flow/aux's equation
	Inflows  []string      `json:"inflows,omitempty"`
	Outflows []string      `json:"outflows,omitempty"`

	NonNegative bool `json:"non_negative,omitempty"`

	GF *jsonGF `json:"gf,omitempty"`

	ModelName string             `json:"model_name,omitempty"`
	Inputs    []jsonModuleInput  `json:"inputs,omitempty"`
}

type jsonEquation struct {
	Kind     string              `json:"kind,omitempty"` // "scalar" (default), "apply_to_all", "arrayed"
	Expr     string              `json:"expr,omitempty"`
	Dims     []string            `json:"dims,omitempty"`
	Elements []jsonArrayedElement `json:"elements,omitempty"`
}

type jsonArrayedElement struct {
	Subscript []string `json:"subscript"`
	Expr      string   `json:"expr"`
}

type jsonGF struct {
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
	Kind string    `json:"kind,omitempty"` // "continuous" (default), "extrapolate", "discrete"
}

type jsonModuleInput struct {
	Dst string `json:"dst"`
	Src string `json:"src"`
}

type jsonView struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Save encodes proj back into the native JSON project format, the
// inverse of Open("json", ...). It round-trips everything Open reads:
// a patched project saved with Save and reopened with Open is
// equivalent, modulo JSON's lack of a distinct "absent" vs "zero" for
// the fields this format omits when empty.
func Save(proj *datamodel.Project) ([]byte, error) {
	jp := jsonProject{
		Name:   proj.Name,
		Source: proj.Source,
		SimSpecs: jsonSimSpecs{
			Start:     proj.SimSpecs.Start,
			Stop:      proj.SimSpecs.Stop,
			DT:        proj.SimSpecs.DT,
			SaveStep:  proj.SimSpecs.SaveStep,
			Method:    methodName(proj.SimSpecs.Method),
			TimeUnits: proj.SimSpecs.TimeUnits,
		},
	}
	for _, d := range proj.Dimensions {
		jp.Dimensions = append(jp.Dimensions, jsonDimension{Name: d.Name, Size: d.Size, Elements: d.Elements, MapsTo: d.MapsTo})
	}
	for _, u := range proj.Units {
		jp.Units = append(jp.Units, jsonUnitDecl{Name: u.Name, Aliases: u.Aliases, Equation: u.Equation})
	}
	for _, m := range proj.Models {
		jm := jsonModel{Name: m.Name}
		for _, v := range m.Variables {
			jm.Variables = append(jm.Variables, variableToJSON(v))
		}
		for _, vw := range m.Views {
			jm.Views = append(jm.Views, jsonView{Name: vw.Name, Data: json.RawMessage(vw.Data)})
		}
		jp.Models = append(jp.Models, jm)
	}
	return json.MarshalIndent(jp, "", "  ")
}

func methodName(m datamodel.IntegrationMethod) string {
	if m == datamodel.MethodRK4 {
		return "rk4"
	}
	return "euler"
}

func variableToJSON(v datamodel.Variable) jsonVariable {
	jv := jsonVariable{
		Name:        v.Name,
		Doc:         v.Doc,
		Unit:        v.Unit,
		Inflows:     v.Inflows,
		Outflows:    v.Outflows,
		NonNegative: v.NonNegative,
		ModelName:   v.ModelName,
	}
	switch v.Kind {
	case datamodel.KindStock:
		jv.Kind = "stock"
		jv.Equation = equationToJSON(v.Equation)
	case datamodel.KindFlow:
		jv.Kind = "flow"
		jv.Equation = equationToJSON(v.FlowEquation)
	case datamodel.KindAux:
		jv.Kind = "aux"
		jv.Equation = equationToJSON(v.FlowEquation)
	case datamodel.KindModule:
		jv.Kind = "module"
		for _, in := range v.Inputs {
			jv.Inputs = append(jv.Inputs, jsonModuleInput{Dst: in.Dst, Src: in.Src})
		}
	}
	if v.GF != nil {
		jv.GF = &jsonGF{X: v.GF.X, Y: v.GF.Y, Kind: gfKindName(v.GF.Kind)}
	}
	return jv
}

func gfKindName(k datamodel.GFKind) string {
	switch k {
	case datamodel.GFExtrapolate:
		return "extrapolate"
	case datamodel.GFDiscrete:
		return "discrete"
	default:
		return "continuous"
	}
}

func equationToJSON(eq datamodel.Equation) *jsonEquation {
	je := &jsonEquation{Expr: eq.Expr, Dims: eq.Dims}
	switch eq.Kind {
	case datamodel.EqApplyToAll:
		je.Kind = "apply_to_all"
	case datamodel.EqArrayed:
		je.Kind = "arrayed"
		for _, e := range eq.Elements {
			je.Elements = append(je.Elements, jsonArrayedElement{Subscript: e.Subscript, Expr: e.Expr})
		}
	default:
		je.Kind = "scalar"
	}
	return je
}

func openJSON(data []byte) (*datamodel.Project, errors.List) {
	var jp jsonProject
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, errors.List{errors.New(errors.KindProject, errors.Generic, fmt.Sprintf("decoding json project: %v", err))}
	}

	proj := &datamodel.Project{
		Name:   jp.Name,
		Source: jp.Source,
		SimSpecs: datamodel.SimSpecs{
			Start:     jp.SimSpecs.Start,
			Stop:      jp.SimSpecs.Stop,
			DT:        jp.SimSpecs.DT,
			SaveStep:  jp.SimSpecs.SaveStep,
			Method:    parseMethod(jp.SimSpecs.Method),
			TimeUnits: jp.SimSpecs.TimeUnits,
		},
	}

	for _, d := range jp.Dimensions {
		proj.Dimensions = append(proj.Dimensions, datamodel.Dimension{
			Name: d.Name, Size: d.Size, Elements: d.Elements, MapsTo: d.MapsTo,
		})
	}
	for _, u := range jp.Units {
		proj.Units = append(proj.Units, datamodel.UnitDecl{Name: u.Name, Aliases: u.Aliases, Equation: u.Equation})
	}

	var errs errors.List
	for _, jm := range jp.Models {
		m := datamodel.Model{Name: jm.Name}
		for _, jv := range jm.Variables {
			v, verrs := convertVariable(jv)
			errs = append(errs, verrs...)
			m.Variables = append(m.Variables, v)
		}
		for _, jview := range jm.Views {
			m.Views = append(m.Views, datamodel.View{Name: jview.Name, Data: []byte(jview.Data)})
		}
		proj.Models = append(proj.Models, m)
	}

	return proj, errs
}

func parseMethod(s string) datamodel.IntegrationMethod {
	if s == "rk4" {
		return datamodel.MethodRK4
	}
	return datamodel.MethodEuler
}

func convertVariable(jv jsonVariable) (datamodel.Variable, errors.List) {
	var errs errors.List
	v := datamodel.Variable{
		Name:        jv.Name,
		Doc:         jv.Doc,
		Unit:        jv.Unit,
		Inflows:     jv.Inflows,
		Outflows:    jv.Outflows,
		NonNegative: jv.NonNegative,
		ModelName:   jv.ModelName,
	}

	switch jv.Kind {
	case "stock":
		v.Kind = datamodel.KindStock
		if jv.Equation != nil {
			v.Equation = convertEquation(*jv.Equation)
		}
	case "flow":
		v.Kind = datamodel.KindFlow
		if jv.Equation != nil {
			v.FlowEquation = convertEquation(*jv.Equation)
		}
	case "aux":
		v.Kind = datamodel.KindAux
		if jv.Equation != nil {
			v.FlowEquation = convertEquation(*jv.Equation)
		}
	case "module":
		v.Kind = datamodel.KindModule
		for _, in := range jv.Inputs {
			v.Inputs = append(v.Inputs, datamodel.ModuleInput{Dst: in.Dst, Src: in.Src})
		}
	default:
		errs = append(errs, errors.NewVar(errors.Generic, jv.Name, errors.Loc{}, fmt.Sprintf("unknown variable kind %q", jv.Kind)))
	}

	if jv.GF != nil {
		v.GF = &datamodel.GraphicalFunction{X: jv.GF.X, Y: jv.GF.Y, Kind: parseGFKind(jv.GF.Kind)}
	}
	return v, errs
}

func parseGFKind(s string) datamodel.GFKind {
	switch s {
	case "extrapolate":
		return datamodel.GFExtrapolate
	case "discrete":
		return datamodel.GFDiscrete
	default:
		return datamodel.GFContinuous
	}
}

func convertEquation(je jsonEquation) datamodel.Equation {
	eq := datamodel.Equation{Expr: je.Expr, Dims: je.Dims}
	switch je.Kind {
	case "apply_to_all":
		eq.Kind = datamodel.EqApplyToAll
	case "arrayed":
		eq.Kind = datamodel.EqArrayed
		for _, e := range je.Elements {
			eq.Elements = append(eq.Elements, datamodel.ArrayedElement{Subscript: e.Subscript, Expr: e.Expr})
		}
	default:
		eq.Kind = datamodel.EqScalar
	}
	return eq
}
