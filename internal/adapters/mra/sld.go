package mra

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// NormalizeSLD rewrites an SLD 1.0 document into the dialect the map engine
// accepts: namespace prefixes are dropped and the SE 1.1 SvgParameter
// element becomes CssParameter. Desktop tools emit either form; the engine
// only reads the latter. A document that does not parse is returned as is
// and left for the engine to reject.
func NormalizeSLD(sld string) string {
	decoder := xml.NewDecoder(strings.NewReader(sld))
	var buf bytes.Buffer
	encoder := xml.NewEncoder(&buf)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sld
		}
		switch t := tok.(type) {
		case xml.StartElement:
			t.Name = normalizeName(t.Name)
			attrs := t.Attr[:0]
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				a.Name = xml.Name{Local: a.Name.Local}
				attrs = append(attrs, a)
			}
			t.Attr = attrs
			if err := encoder.EncodeToken(t); err != nil {
				return sld
			}
		case xml.EndElement:
			t.Name = normalizeName(t.Name)
			if err := encoder.EncodeToken(t); err != nil {
				return sld
			}
		case xml.CharData, xml.Comment:
			if err := encoder.EncodeToken(tok); err != nil {
				return sld
			}
		}
	}
	if err := encoder.Flush(); err != nil {
		return sld
	}
	return buf.String()
}

func normalizeName(n xml.Name) xml.Name {
	local := n.Local
	if local == "SvgParameter" {
		local = "CssParameter"
	}
	return xml.Name{Local: local}
}

// DefaultStyle builds the generated default SLD for a layer: one simple
// symbolizer matching the geometry class for vectors, identity for rasters.
func DefaultStyle(name string, layerType types.LayerType, geometryClass string) string {
	var symbolizer string
	if layerType == types.LayerRaster {
		symbolizer = `<RasterSymbolizer><Opacity>1.0</Opacity></RasterSymbolizer>`
	} else {
		switch strings.ToLower(geometryClass) {
		case "point", "multipoint":
			symbolizer = `<PointSymbolizer><Graphic><Mark>` +
				`<WellKnownName>circle</WellKnownName>` +
				`<Fill><CssParameter name="fill">#77aadd</CssParameter></Fill>` +
				`</Mark><Size>8</Size></Graphic></PointSymbolizer>`
		case "linestring", "multilinestring":
			symbolizer = `<LineSymbolizer><Stroke>` +
				`<CssParameter name="stroke">#335577</CssParameter>` +
				`<CssParameter name="stroke-width">1.5</CssParameter>` +
				`</Stroke></LineSymbolizer>`
		default:
			symbolizer = `<PolygonSymbolizer>` +
				`<Fill><CssParameter name="fill">#77aadd</CssParameter>` +
				`<CssParameter name="fill-opacity">0.6</CssParameter></Fill>` +
				`<Stroke><CssParameter name="stroke">#335577</CssParameter></Stroke>` +
				`</PolygonSymbolizer>`
		}
	}
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<StyledLayerDescriptor version="1.0.0">` +
		`<NamedLayer><Name>` + name + `</Name>` +
		`<UserStyle><Title>` + name + `</Title>` +
		`<FeatureTypeStyle><Rule>` + symbolizer + `</Rule></FeatureTypeStyle>` +
		`</UserStyle></NamedLayer></StyledLayerDescriptor>`
}
