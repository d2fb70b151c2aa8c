package usecase

import "strings"

// siteRiskContexts selects the risk-context paragraph injected into the
// analysis prompt for a declared site type.
var siteRiskContexts = map[string]string{
	"datacenter": "Site critique (télécom/IT). Priorités: contrôle d'accès multi-couches, incendie, continuité électrique.",
	"bank":       "Site financier. Priorités: anti-intrusion, anti-bélier, séparation flux, angles morts caméras.",
	"embassy":    "Site diplomatique. Priorités: périmètre, contrôle foule, blast standoff, évacuation.",
	"industrial": "Site industriel. Priorités: incendie, EPI, circulation engins, stock dangereux, périmètre large.",
	"ngo":        "Site ONG. Priorités: sûreté du personnel, visiteurs, périmètre, routines d'urgence.",
	"generic":    "Site sensible nécessitant audit pragmatique (sûreté + hygiène minimale).",
}

const analysisPromptTemplate = `Tu es un expert en sûreté, sécurité physique et hygiène opérant au Burkina Faso.
Analyse cette IMAGE d'audit et produis **UNIQUEMENT** un JSON valide conforme au **Schéma v1.4** ci-dessous.

CONTEXTE SITE :
- Zone : {{zone_name}}
- Type de site : {{site_type}}
- Contexte : {{site_risk_context}}

CONTEXTE SÉCURITAIRE BURKINA FASO :
- Menace terroriste active (JNIM, EIGS)
- Risque criminalité élevé (braquages, vols à main armée)
- Infrastructure sécuritaire limitée
- Normes internationales à respecter : OSAC / ISO 31000 / ISO 45001

ANALYSE À EFFECTUER (scores 0-10)

1. PÉRIMÈTRE (perimeter_score) :
- État clôtures/murs (hauteur ≥ 2.5 m, intégrité, barbelés concertina)
- Portails/barrières (robustesse, contrôle accès)
- Points faibles : trous, sections basses, végétation facilitant escalade
- Éclairage périmétrique (zones sombres = vulnérabilité)

2. CONTRÔLE D'ACCÈS (access_control_score) :
- Guérites/postes garde (positionnement, visibilité)
- Barrières physiques entrées (chicanes, plots anti-bélier, distance VBIED ≥ 25 m)
- Séparation piétons/véhicules
- Caméras surveillance (angles morts, état)

3. SÉCURITÉ INCENDIE (fire_safety_score) :
- Extincteurs (présence, accessibilité, contrôle à jour)
- Détecteurs fumée visibles
- Issues secours (dégagées, signalées, éclairées)
- RIA/hydrants (présence, signalisation)

4. SOLIDITÉ STRUCTURELLE (structural_score) :
- Fenêtres (barreaux, films anti-effraction)
- Portes (blindées, serrures multipoints)
- Toiture/murs (points escalade possibles)
- Protection anti-projectiles (sacs sable, abris renforcés)

5. HYGIÈNE (hygiene_score) :
- Propreté (sols, déchets, encombrements)
- Accès à l'eau potable (fontaines, bouteilles)
- Installations sanitaires (toilettes, lavabos)
- Gestion déchets / nuisibles / signalétique EPI
- Présence d'eau stagnante ou d'odeurs anormales

DÉTECTE LES VULNÉRABILITÉS :
- fence_breach, missing_barrier, unlit_area, camera_blind_spot,
missing_signage, weak_access_point, vegetation_risk, unsecured_generator,
inadequate_guard_post, missing_fire_equipment,
waste_accumulation, standing_water, inadequate_sanitation, no_potable_water,
pest_infestation, blocked_circulation, missing_PPE_signage, food_safety_noncompliance

RÉPONDS UNIQUEMENT EN JSON VALIDE :
{
"schema_version": "1.4",
"security_level": "low|medium|high|critical",
"perimeter_score": 0-10,
"access_control_score": 0-10,
"fire_safety_score": 0-10,
"structural_score": 0-10,
"hygiene_score": 0-10,
"vulnerabilities": [
    {
    "category": "perimeter|access|fire|structural|signage|personnel|hygiene",
    "type": "voir taxonomie ci-dessus",
    "description": "fait observable, concret et bref",
    "severity": "low|medium|high|critical",
    "location": "ex : 'gauche', 'fond', 'près du portail'",
    "recommendation": "action corrective pragmatique et faisable"
    }
],
"security_assets": [
    {
    "type": "camera|guard|barrier|lighting|fence|signage|fire_extinguisher",
    "condition": "good|degraded|non_functional",
    "coverage": "adequate|partial|insufficient"
    }
],
"immediate_risks": ["...", "..."],
"notes": {
    "uncertainties": ["éléments non visibles ou ambigus"],
    "assumptions": []
}
}

RÈGLES STRICTES :
- Retourne uniquement le JSON, sans texte ni balises.
- Utilise null si un élément est incertain.
- Ne fais pas d'hypothèses ni de reformulations.`

// buildAnalysisPrompt renders the deterministic per-image prompt. Identical
// zone/site-type inputs always produce byte-identical prompts, which keeps
// the audit hash stable.
func buildAnalysisPrompt(zone, siteType string) string {
	zoneName := strings.TrimSpace(zone)
	if zoneName == "" {
		zoneName = "Non spécifiée"
	}
	st := strings.ToLower(strings.TrimSpace(siteType))
	if st == "" {
		st = "generic"
	}
	context, ok := siteRiskContexts[st]
	if !ok {
		context = siteRiskContexts["generic"]
	}

	replacer := strings.NewReplacer(
		"{{zone_name}}", zoneName,
		"{{site_type}}", st,
		"{{site_risk_context}}", context,
	)
	return replacer.Replace(analysisPromptTemplate)
}
