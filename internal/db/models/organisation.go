package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/pkg/types"
)

/*
	     Column      |           Type           | Nullable |      Default
	-----------------+--------------------------+----------+--------------------
	 slug            | character varying(100)   | not null |
	 ckan_id         | uuid                     |          |
	 legal_name      | character varying(256)   | not null |
	 type_slug       | character varying(100)   |          |
	 jurisdiction    | character varying(10)    |          |
	 address         | character varying(256)   |          |
	 city            | character varying(100)   |          |
	 postcode        | character varying(10)    |          |
	 phone           | character varying(30)    |          |
	 email           | character varying(254)   |          |
	 website         | character varying(2048)  |          |
	 logo            | character varying(2048)  |          |
	 license_slug    | character varying(100)   |          |
	 is_active       | boolean                  | not null | false
	 is_partner      | boolean                  | not null | false
	 geonet_id       | uuid                     |          |
	 created_at      | timestamp with time zone |          | now()
	 updated_at      | timestamp with time zone |          | now()

	Indexes:
	    "organisations_pkey" PRIMARY KEY, btree (slug)
	    "organisations_legal_name_key" UNIQUE CONSTRAINT, btree (legal_name)
	    "organisations_ckan_id_key" UNIQUE CONSTRAINT, btree (ckan_id)
*/

type Organisation struct {
	Slug         types.Slug `db:"slug"`
	CkanID       uuid.UUID  `db:"ckan_id"` // uuid.Nil until the first dataset publication
	LegalName    string     `db:"legal_name"`
	TypeSlug     types.Slug `db:"type_slug"`
	Jurisdiction string     `db:"jurisdiction"`
	Address      string     `db:"address"`
	City         string     `db:"city"`
	Postcode     string     `db:"postcode"`
	Phone        string     `db:"phone"`
	Email        string     `db:"email"`
	Website      string     `db:"website"`
	Logo         string     `db:"logo"`
	LicenseSlug  types.Slug `db:"license_slug"` // default license for its datasets
	IsActive     bool       `db:"is_active"`
	IsPartner    bool       `db:"is_partner"`
	GeonetID     uuid.UUID  `db:"geonet_id"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

type OrganisationType struct {
	Slug types.Slug `db:"slug"`
	Name string     `db:"name"`
}
