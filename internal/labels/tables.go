package labels

var tables = map[Locale]map[Category]map[string]string{
	French: {
		RequestStatus: {
			"submitted":        "Soumise",
			"under_review":     "En examen",
			"quote_sent":       "Devis envoyé",
			"quote_accepted":   "Devis accepté",
			"awaiting_deposit": "En attente d'acompte",
			"deposit_pending":  "Acompte en vérification",
			"in_progress":      "En cours de traitement",
			"revision":         "En révision",
			"completed":        "Terminée",
			"delivered":        "Livrée",
			"cancelled":        "Annulée",
			"rejected":         "Refusée",
		},
		ServiceType: {
			"thesis":             "Thèse de doctorat",
			"dissertation":       "Mémoire de master",
			"research_proposal":  "Proposition de recherche",
			"academic_proposal":  "Proposition académique",
			"book_chapter":       "Chapitre de livre",
			"research_paper":     "Article de recherche",
			"literature_review":  "Revue de littérature",
			"proofreading":       "Relecture et correction",
			"editing":            "Édition académique",
			"formatting":         "Mise en forme",
			"consultation":       "Consultation académique",
			"cv_resume":          "CV/Résumé académique",
			"personal_statement": "Lettre de motivation",
			"grant_proposal":     "Proposition de subvention",
			"poster_review":      "Révision de poster",
			"other":              "Autre service",
		},
		Urgency: {
			"standard":    "Standard (48h+)",
			"express_24h": "Express 24h (+25%)",
			"express_5h":  "Express 5h (+75%)",
		},
		ActionType: {
			"comment":                     "Commentaire",
			"delivery":                    "Livraison",
			"revision_request":            "Demande de révision",
			"revision_delivery":           "Livraison révision",
			"download":                    "Téléchargement",
			"status_change":               "Changement de statut",
			"deadline_extension_request":  "Demande extension délai",
			"deadline_extension_approved": "Extension délai approuvée",
			"deadline_extension_rejected": "Extension délai refusée",
			"quote_sent":                  "Devis envoyé",
			"quote_accepted":              "Devis accepté",
			"payment_submitted":           "Paiement soumis",
			"payment_verified":            "Paiement vérifié",
			"document_upload":             "Document uploadé",
			"progress_update":             "Mise à jour progression",
		},
		PaymentStatus: {
			"pending":  "En attente",
			"verified": "Vérifié",
			"rejected": "Rejeté",
		},
		PaymentType: {
			"deposit": "Acompte",
			"final":   "Paiement final",
			"full":    "Paiement complet",
		},
		DocumentType: {
			"client_upload": "Document client",
			"admin_upload":  "Document admin",
			"deliverable":   "Livrable",
			"revision":      "Révision",
		},
		ExtensionStatus: {
			"pending":  "En attente",
			"approved": "Approuvée",
			"rejected": "Refusée",
		},
		RevisionStatus: {
			"pending":     "En attente",
			"in_progress": "En cours",
			"completed":   "Terminée",
			"rejected":    "Refusée",
		},
	},
	English: {
		RequestStatus: {
			"submitted":        "Submitted",
			"under_review":     "Under review",
			"quote_sent":       "Quote sent",
			"quote_accepted":   "Quote accepted",
			"awaiting_deposit": "Awaiting deposit",
			"deposit_pending":  "Deposit being verified",
			"in_progress":      "In progress",
			"revision":         "In revision",
			"completed":        "Completed",
			"delivered":        "Delivered",
			"cancelled":        "Cancelled",
			"rejected":         "Rejected",
		},
		ServiceType: {
			"thesis":             "Doctoral thesis",
			"dissertation":       "Master's dissertation",
			"research_proposal":  "Research proposal",
			"academic_proposal":  "Academic proposal",
			"book_chapter":       "Book chapter",
			"research_paper":     "Research paper",
			"literature_review":  "Literature review",
			"proofreading":       "Proofreading",
			"editing":            "Academic editing",
			"formatting":         "Formatting",
			"consultation":       "Academic consultation",
			"cv_resume":          "Academic CV",
			"personal_statement": "Personal statement",
			"grant_proposal":     "Grant proposal",
			"poster_review":      "Poster review",
			"other":              "Other service",
		},
		Urgency: {
			"standard":    "Standard (48h+)",
			"express_24h": "Express 24h (+25%)",
			"express_5h":  "Express 5h (+75%)",
		},
		ActionType: {
			"comment":                     "Comment",
			"delivery":                    "Delivery",
			"revision_request":            "Revision request",
			"revision_delivery":           "Revision delivery",
			"download":                    "Download",
			"status_change":               "Status change",
			"deadline_extension_request":  "Deadline extension request",
			"deadline_extension_approved": "Deadline extension approved",
			"deadline_extension_rejected": "Deadline extension rejected",
			"quote_sent":                  "Quote sent",
			"quote_accepted":              "Quote accepted",
			"payment_submitted":           "Payment submitted",
			"payment_verified":            "Payment verified",
			"document_upload":             "Document uploaded",
			"progress_update":             "Progress update",
		},
		PaymentStatus: {
			"pending":  "Pending",
			"verified": "Verified",
			"rejected": "Rejected",
		},
		PaymentType: {
			"deposit": "Deposit",
			"final":   "Final payment",
			"full":    "Full payment",
		},
		DocumentType: {
			"client_upload": "Client document",
			"admin_upload":  "Staff document",
			"deliverable":   "Deliverable",
			"revision":      "Revision",
		},
		ExtensionStatus: {
			"pending":  "Pending",
			"approved": "Approved",
			"rejected": "Rejected",
		},
		RevisionStatus: {
			"pending":     "Pending",
			"in_progress": "In progress",
			"completed":   "Completed",
			"rejected":    "Rejected",
		},
	},
}
