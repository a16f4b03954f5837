package followup

import (
	"fmt"
	"strings"

	"github.com/fisioclinic/clinic/pkg/textfold"
)

// BodyZones is the closed list of zones a follow-up can be tagged with.
var BodyZones = []string{
	"cabeza", "articulacion_temporomandibular", "cara", "cuello_columna_cervical",
	"columna_dorsal", "columna_lumbar", "torax_pecho_dcho", "torax_pecho_izq",
	"abdomen", "pelvis", "ingle_dcha", "ingle_izq", "hombro_dcho", "hombro_izq",
	"brazo_sup_ant_dcho", "brazo_sup_pos_dcho", "brazo_sup_ant_izq", "brazo_sup_pos_izq",
	"antebrazo_dcho", "antebrazo_izq", "codo_dcho", "codo_izq", "muneca_dcha", "muneca_izq",
	"dedos_manos", "cadera_dcha", "cadera_izq", "gluteo_dcho", "gluteo_izq",
	"pierna_sup_pos_dcha", "pierna_sup_ant_dcha", "pierna_sup_pos_izq", "pierna_sup_ant_izq",
	"pierna_inf_dcha", "pierna_inf_izq", "rodilla_dcha", "rodilla_izq", "tobillo_dcho", "tobillo_izq",
	"pie_dcho", "pie_izq", "dedos_pies",
}

var knownZones = func() map[string]bool {
	m := make(map[string]bool, len(BodyZones))
	for _, z := range BodyZones {
		m[z] = true
	}
	return m
}()

func IsBodyZone(z string) bool { return knownZones[z] }

// NormalizeZones folds case and accents, drops blanks and duplicates and
// rejects anything outside BodyZones. The result is never nil.
func NormalizeZones(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	var unknown []string
	for _, raw := range in {
		z := strings.ReplaceAll(textfold.Fold(raw), " ", "_")
		if z == "" || seen[z] {
			continue
		}
		if !knownZones[z] {
			unknown = append(unknown, raw)
			continue
		}
		seen[z] = true
		out = append(out, z)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown body zones: %s", ErrValidation, strings.Join(unknown, ", "))
	}
	return out, nil
}
