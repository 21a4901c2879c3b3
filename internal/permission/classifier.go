// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package permission

import (
	"strings"

	"golang.org/x/text/language"
)

// =============================================================================
// PRE-FLIGHT CLASSIFIER
// =============================================================================

// Classification is the classifier's verdict on one outgoing message.
type Classification struct {
	Detected    bool
	Permission  Kind
	Description string
}

// Classifier inspects outgoing text for phrases that imply a privileged
// capability. Implementations must be stateless with respect to the
// text; stateful suppression (already-granted kinds) is the Gate's job.
type Classifier interface {
	Classify(text string, loc language.Tag) Classification
}

// rule is one phrase-to-capability mapping. Rules are ordered: the
// first hit wins, so more specific phrases must come first.
type rule struct {
	phrases     map[language.Tag][]string
	kind        Kind
	description string
}

var defaultRules = []rule{
	{
		kind:        KindRemoteAccess,
		description: "Access a remote machine over SSH",
		phrases: map[language.Tag][]string{
			language.English: {"ssh into", "ssh to", "connect to the server", "remote into"},
			language.French:  {"connecte-toi en ssh", "connexion ssh", "accède au serveur distant"},
		},
	},
	{
		kind:        KindCommandExecute,
		description: "Run a command on this machine",
		phrases: map[language.Tag][]string{
			language.English: {"run the command", "execute the command", "run this script", "execute this script", "run the script"},
			language.French:  {"exécute la commande", "lance la commande", "exécute ce script", "lance ce script"},
		},
	},
	{
		kind:        KindFileWrite,
		description: "Write or modify files on disk",
		phrases: map[language.Tag][]string{
			language.English: {"write to the file", "save this to", "modify the file", "create a file", "delete the file"},
			language.French:  {"écris dans le fichier", "modifie le fichier", "crée un fichier", "supprime le fichier"},
		},
	},
	{
		kind:        KindFileRead,
		description: "Read files on disk",
		phrases: map[language.Tag][]string{
			language.English: {"read the file", "open the file", "show me the file", "cat the file"},
			language.French:  {"lis le fichier", "ouvre le fichier", "montre-moi le fichier"},
		},
	},
	{
		kind:        KindNetworkAccess,
		description: "Reach the network",
		phrases: map[language.Tag][]string{
			language.English: {"download", "fetch the url", "make an http request", "call the api"},
			language.French:  {"télécharge", "fais une requête http", "appelle l'api"},
		},
	},
	{
		kind:        KindRepoAnalyze,
		description: "Analyze the attached repository",
		phrases: map[language.Tag][]string{
			language.English: {"analyze the repo", "analyze this repository", "scan the codebase"},
			language.French:  {"analyse le dépôt", "analyse ce dépôt", "scanne le code"},
		},
	},
	{
		kind:        KindMemoryAccess,
		description: "Read or write long-term memory",
		phrases: map[language.Tag][]string{
			language.English: {"remember that", "save to memory", "recall what"},
			language.French:  {"souviens-toi que", "enregistre en mémoire", "rappelle-toi"},
		},
	},
}

// RuleClassifier matches ordered case-insensitive phrase lists per
// locale. It is the default strategy; callers can swap in anything that
// satisfies Classifier (an embedding-based model, a remote call).
type RuleClassifier struct {
	rules []rule
}

// NewRuleClassifier builds the default phrase-based classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{rules: defaultRules}
}

// Classify scans text for the first matching phrase in the given locale,
// falling back to English phrase lists for locales without their own.
func (c *RuleClassifier) Classify(text string, loc language.Tag) Classification {
	lowered := strings.ToLower(text)
	for _, r := range c.rules {
		phrases, ok := r.phrases[loc]
		if !ok {
			phrases = r.phrases[language.English]
		}
		for _, p := range phrases {
			if strings.Contains(lowered, p) {
				return Classification{Detected: true, Permission: r.kind, Description: r.description}
			}
		}
	}
	return Classification{}
}
